// Modul: config.go
// Beschreibung: BERT-Hyperparameter aus der JSON-Konfigurationsdatei
// Hauptstrukturen:
//   - Config: Felder von bert_config.json
//   - ConfigFromFile/ParseConfig: Lesen und Pruefen der Konfiguration

package bert

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrInvalidConfig = errors.New("invalid bert config")

// Config entspricht bert_config.json
type Config struct {
	VocabSize                 int     `json:"vocab_size"`
	HiddenSize                int     `json:"hidden_size"`
	NumHiddenLayers           int     `json:"num_hidden_layers"`
	NumAttentionHeads         int     `json:"num_attention_heads"`
	IntermediateSize          int     `json:"intermediate_size"`
	HiddenAct                 string  `json:"hidden_act"`
	HiddenDropoutProb         float64 `json:"hidden_dropout_prob"`
	AttentionProbsDropoutProb float64 `json:"attention_probs_dropout_prob"`
	MaxPositionEmbeddings     int     `json:"max_position_embeddings"`
	TypeVocabSize             int     `json:"type_vocab_size"`
	InitializerRange          float64 `json:"initializer_range"`
	LayerNormEps              float64 `json:"layer_norm_eps"`
}

// DefaultConfig gibt die Werte von BERT-Base zurueck
func DefaultConfig() Config {
	return Config{
		VocabSize:                 30522,
		HiddenSize:                768,
		NumHiddenLayers:           12,
		NumAttentionHeads:         12,
		IntermediateSize:          3072,
		HiddenAct:                 "gelu",
		HiddenDropoutProb:         0.1,
		AttentionProbsDropoutProb: 0.1,
		MaxPositionEmbeddings:     512,
		TypeVocabSize:             2,
		InitializerRange:          0.02,
		LayerNormEps:              1e-12,
	}
}

// ConfigFromFile liest eine BERT-Konfiguration
func ConfigFromFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	c, err := ParseConfig(bytes.NewReader(b))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// ParseConfig dekodiert JSON ueber DefaultConfig und prueft das Ergebnis.
// Fehlende Felder behalten ihren Standardwert.
func ParseConfig(r io.Reader) (Config, error) {
	c := DefaultConfig()
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate prueft die Dimensionen
func (c Config) Validate() error {
	switch {
	case c.HiddenSize <= 0:
		return fmt.Errorf("%w: hidden_size must be positive, got %d", ErrInvalidConfig, c.HiddenSize)
	case c.NumAttentionHeads <= 0 || c.HiddenSize%c.NumAttentionHeads != 0:
		return fmt.Errorf("%w: hidden size (%d) is not a multiple of the number of attention heads (%d)", ErrInvalidConfig, c.HiddenSize, c.NumAttentionHeads)
	case c.VocabSize <= 0, c.MaxPositionEmbeddings <= 0, c.TypeVocabSize <= 0:
		return fmt.Errorf("%w: vocab_size, max_position_embeddings and type_vocab_size must be positive", ErrInvalidConfig)
	case c.NumHiddenLayers < 0, c.IntermediateSize <= 0:
		return fmt.Errorf("%w: invalid layer sizes", ErrInvalidConfig)
	case c.HiddenDropoutProb < 0 || c.HiddenDropoutProb >= 1, c.AttentionProbsDropoutProb < 0 || c.AttentionProbsDropoutProb >= 1:
		return fmt.Errorf("%w: dropout probabilities must be in [0, 1)", ErrInvalidConfig)
	}
	return nil
}
