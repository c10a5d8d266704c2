// config.go - Konfigurationsrecord fuer den Modellaufbau
//
// Dieses Modul enthaelt:
// - Config: Flacher Record aller Optionen (YAML-Schluessel = Flag-Name)
// - Defaults: Standardwerte
// - Load/Parse: YAML-Datei ueber die Standardwerte legen
// - ApplyEnv: Prozess-Umgebung (LOCAL_RANK, WORLD_SIZE, ...) uebernehmen
// - Validate: Wertebereiche pruefen
//
// Reihenfolge beim Zusammenbau: Defaults < Datei < Umgebung < Flags
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/clbt/clbt/envconfig"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config ist waehrend des Aufbaus unveraenderlich
type Config struct {
	// Prozess und Geraet
	LocalRank int  `yaml:"local_rank" json:"local_rank"`
	NoCUDA    bool `yaml:"no_cuda" json:"no_cuda"`

	// Diskriminator
	WithDis         bool    `yaml:"with_dis" json:"with_dis"`
	DisLayers       int     `yaml:"dis_layers" json:"dis_layers"`
	DisHidDim       int     `yaml:"dis_hid_dim" json:"dis_hid_dim"`
	DisDropout      float64 `yaml:"dis_dropout" json:"dis_dropout"`
	DisInputDropout float64 `yaml:"dis_input_dropout" json:"dis_input_dropout"`

	// Mapping
	MapType         string  `yaml:"map_type" json:"map_type"`
	MapIDInit       bool    `yaml:"map_id_init" json:"map_id_init"`
	EmbDim          int     `yaml:"emb_dim" json:"emb_dim"`
	MapHidDim       int     `yaml:"map_hid_dim" json:"map_hid_dim"`
	MapNLayers      int     `yaml:"map_n_layers" json:"map_n_layers"`
	MapActivation   string  `yaml:"map_activation" json:"map_activation"`
	MapNHeads       int     `yaml:"map_n_heads" json:"map_n_heads"`
	MapDropout      float64 `yaml:"map_dropout" json:"map_dropout"`
	MapInputDropout float64 `yaml:"map_input_dropout" json:"map_input_dropout"`

	// Encoder
	BertConfigFile  string `yaml:"bert_config_file" json:"bert_config_file"`
	BertConfigFile1 string `yaml:"bert_config_file1" json:"bert_config_file1"`
	InitCheckpoint  string `yaml:"init_checkpoint" json:"init_checkpoint"`
	InitCheckpoint1 string `yaml:"init_checkpoint1" json:"init_checkpoint1"`
	LoadPredBert    bool   `yaml:"load_pred_bert" json:"load_pred_bert"`

	Seed int64 `yaml:"seed" json:"seed"`

	// Prozessgruppe
	MasterAddr string `yaml:"master_addr" json:"master_addr"`
	MasterPort int    `yaml:"master_port" json:"master_port"`
	WorldSize  int    `yaml:"world_size" json:"world_size"`
}

// Defaults gibt die Standardkonfiguration zurueck
func Defaults() Config {
	return Config{
		LocalRank:       -1,
		DisLayers:       2,
		DisHidDim:       2048,
		DisDropout:      0,
		DisInputDropout: 0.1,
		MapType:         "linear",
		MapIDInit:       true,
		EmbDim:          768,
		MapHidDim:       768,
		MapNLayers:      2,
		MapActivation:   "leaky_relu",
		MapNHeads:       12,
		MapDropout:      0.1,
		MapInputDropout: 0.1,
		Seed:            42,
		MasterAddr:      "127.0.0.1",
		MasterPort:      29500,
		WorldSize:       1,
	}
}

// Distributed meldet ob ein Prozess-Rang gesetzt ist
func (c Config) Distributed() bool {
	return c.LocalRank != -1
}

// Addr gibt die Rendezvous-Adresse host:port zurueck
func (c Config) Addr() string {
	return net.JoinHostPort(c.MasterAddr, strconv.Itoa(c.MasterPort))
}

// =============================================================================
// Laden
// =============================================================================

// Load liest eine YAML-Datei ueber die Standardwerte
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	c, err := Parse(bytes.NewReader(b))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	return c, nil
}

// Parse dekodiert YAML ueber die Standardwerte. Unbekannte Schluessel sind
// ein Fehler.
func Parse(r io.Reader) (Config, error) {
	c := Defaults()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return c, nil
}

// ApplyEnv uebernimmt gesetzte Umgebungsvariablen des Launchers
func (c *Config) ApplyEnv() {
	if envconfig.Var("LOCAL_RANK") != "" {
		c.LocalRank = envconfig.LocalRank()
	}
	if envconfig.Var("WORLD_SIZE") != "" {
		c.WorldSize = envconfig.WorldSize()
	}
	if envconfig.Var("MASTER_ADDR") != "" {
		c.MasterAddr = envconfig.MasterHost()
	}
	if envconfig.Var("MASTER_PORT") != "" {
		c.MasterPort = envconfig.MasterPort()
	}
	if envconfig.Var("CLBT_SEED") != "" {
		c.Seed = int64(envconfig.Seed())
	}
	if envconfig.NoCUDA() {
		c.NoCUDA = true
	}
}

// =============================================================================
// Validierung
// =============================================================================

// Validate prueft Wertebereiche. Der Mapping-Typ wird beim Aufbau geprueft.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.LocalRank >= -1, "local_rank must be >= -1, got %d", c.LocalRank)
	check(c.DisLayers >= 0, "dis_layers must be >= 0, got %d", c.DisLayers)
	check(c.DisHidDim > 0, "dis_hid_dim must be positive, got %d", c.DisHidDim)
	check(c.EmbDim > 0, "emb_dim must be positive, got %d", c.EmbDim)
	check(c.MapHidDim > 0, "map_hid_dim must be positive, got %d", c.MapHidDim)
	check(c.MapNLayers >= 1, "map_n_layers must be >= 1, got %d", c.MapNLayers)
	check(c.MapNHeads > 0, "map_n_heads must be positive, got %d", c.MapNHeads)
	check(c.WorldSize >= 1, "world_size must be >= 1, got %d", c.WorldSize)
	check(c.MasterPort > 0 && c.MasterPort < 1<<16, "master_port out of range: %d", c.MasterPort)

	for name, p := range map[string]float64{
		"dis_dropout":       c.DisDropout,
		"dis_input_dropout": c.DisInputDropout,
		"map_dropout":       c.MapDropout,
		"map_input_dropout": c.MapInputDropout,
	} {
		check(p >= 0 && p < 1, "%s must be in [0, 1), got %v", name, p)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}
