// flags.go - Kommandozeilen-Flags fuer Config
//
// Flags tragen denselben Namen wie die YAML-Schluessel. Nur explizit
// gesetzte Flags ueberschreiben Datei und Umgebung.
package config

import (
	"reflect"
	"strings"

	"github.com/spf13/pflag"
)

// Flags bindet einen FlagSet an einen Schatten-Record
type Flags struct {
	fs *pflag.FlagSet
	v  Config
}

// RegisterFlags registriert alle Konfigurations-Flags
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs, v: Defaults()}
	v := &f.v

	fs.IntVar(&v.LocalRank, "local_rank", v.LocalRank, "Process rank on this node, -1 for single process")
	fs.BoolVar(&v.NoCUDA, "no_cuda", v.NoCUDA, "Do not use accelerators")

	fs.BoolVar(&v.WithDis, "with_dis", v.WithDis, "Also build the discriminator")
	fs.IntVar(&v.DisLayers, "dis_layers", v.DisLayers, "Discriminator hidden layers")
	fs.IntVar(&v.DisHidDim, "dis_hid_dim", v.DisHidDim, "Discriminator hidden width")
	fs.Float64Var(&v.DisDropout, "dis_dropout", v.DisDropout, "Discriminator dropout")
	fs.Float64Var(&v.DisInputDropout, "dis_input_dropout", v.DisInputDropout, "Discriminator input dropout")

	fs.StringVar(&v.MapType, "map_type", v.MapType, "Mapping network (linear, svd, nonlinear, attention, self_attention, linear_self_attention, nonlinear_self_attention, fine_tune)")
	fs.BoolVar(&v.MapIDInit, "map_id_init", v.MapIDInit, "Initialize the linear mapping to the identity")
	fs.IntVar(&v.EmbDim, "emb_dim", v.EmbDim, "Embedding dimension")
	fs.IntVar(&v.MapHidDim, "map_hid_dim", v.MapHidDim, "Mapping hidden width")
	fs.IntVar(&v.MapNLayers, "map_n_layers", v.MapNLayers, "Mapping layers")
	fs.StringVar(&v.MapActivation, "map_activation", v.MapActivation, "Mapping activation (leaky_relu, relu, tanh)")
	fs.IntVar(&v.MapNHeads, "map_n_heads", v.MapNHeads, "Mapping attention heads")
	fs.Float64Var(&v.MapDropout, "map_dropout", v.MapDropout, "Mapping dropout")
	fs.Float64Var(&v.MapInputDropout, "map_input_dropout", v.MapInputDropout, "Mapping input dropout")

	fs.StringVar(&v.BertConfigFile, "bert_config_file", v.BertConfigFile, "Source encoder config (JSON)")
	fs.StringVar(&v.BertConfigFile1, "bert_config_file1", v.BertConfigFile1, "Target encoder config (JSON), defaults to bert_config_file")
	fs.StringVar(&v.InitCheckpoint, "init_checkpoint", v.InitCheckpoint, "Source encoder checkpoint")
	fs.StringVar(&v.InitCheckpoint1, "init_checkpoint1", v.InitCheckpoint1, "Target encoder checkpoint")
	fs.BoolVar(&v.LoadPredBert, "load_pred_bert", v.LoadPredBert, "Encoders are supplied by the caller")

	fs.Int64Var(&v.Seed, "seed", v.Seed, "Seed for weight initialization")

	fs.StringVar(&v.MasterAddr, "master_addr", v.MasterAddr, "Rendezvous host of rank 0")
	fs.IntVar(&v.MasterPort, "master_port", v.MasterPort, "Rendezvous port of rank 0")
	fs.IntVar(&v.WorldSize, "world_size", v.WorldSize, "Number of processes")

	return f
}

// Apply kopiert alle explizit gesetzten Flags nach c
func (f *Flags) Apply(c *Config) {
	src := reflect.ValueOf(&f.v).Elem()
	dst := reflect.ValueOf(c).Elem()

	f.fs.Visit(func(flag *pflag.Flag) {
		if i := fieldIndex(src.Type(), flag.Name); i >= 0 {
			dst.Field(i).Set(src.Field(i))
		}
	})
}

func fieldIndex(t reflect.Type, name string) int {
	for i := range t.NumField() {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if tag == name {
			return i
		}
	}
	return -1
}
