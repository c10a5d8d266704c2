// encoder.go - Laden der BERT-Encoder
//
// Quell- und Ziel-Encoder werden unabhaengig konfiguriert und optional aus
// je einem Checkpoint geladen. Beide muessen dieselbe Breite haben.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clbt/clbt/config"
	"github.com/clbt/clbt/fs/checkpoint"
	"github.com/clbt/clbt/huggingface"
	"github.com/clbt/clbt/ml"
	"github.com/clbt/clbt/ml/nn"
	"github.com/clbt/clbt/model/models/bert"
)

// Schluessel, die ein Pretraining-Checkpoint zusaetzlich zum Encoder enthaelt
var checkpointSkip = []string{"cls."}

// LoadEncoders erstellt beide Encoder und legt sie zuletzt auf device.
// Mit load_pred_bert werden keine Encoder erstellt.
func LoadEncoders(ctx context.Context, cfg config.Config, device ml.Device, logger *slog.Logger) (*bert.Model, *bert.Model, error) {
	if cfg.LoadPredBert {
		logger.Debug("encoders are supplied by the caller")
		return nil, nil, nil
	}

	if cfg.BertConfigFile == "" {
		return nil, nil, fmt.Errorf("%w: bert_config_file is required unless load_pred_bert is set", config.ErrInvalidConfig)
	}

	bertConfig, err := loadBertConfig(cfg.BertConfigFile)
	if err != nil {
		return nil, nil, err
	}

	encoder, err := loadEncoder(ctx, bertConfig, cfg.InitCheckpoint, cfg.Seed+seedEncoder, logger)
	if err != nil {
		return nil, nil, err
	}

	bertConfig1 := bertConfig
	if cfg.BertConfigFile1 != "" {
		if bertConfig1, err = loadBertConfig(cfg.BertConfigFile1); err != nil {
			return nil, nil, err
		}
	}

	encoder1, err := loadEncoder(ctx, bertConfig1, cfg.InitCheckpoint1, cfg.Seed+seedEncoder1, logger)
	if err != nil {
		return nil, nil, err
	}

	if encoder.HiddenSize() != encoder1.HiddenSize() {
		return nil, nil, fmt.Errorf("%w: %d != %d", ErrHiddenSizeMismatch, encoder.HiddenSize(), encoder1.HiddenSize())
	}

	nn.To(encoder, device)
	nn.To(encoder1, device)
	return encoder, encoder1, nil
}

// loadBertConfig liest eine lokale Datei oder eine hf:// Referenz
func loadBertConfig(path string) (bert.Config, error) {
	path, err := huggingface.Resolve(path, huggingface.ConfigFiles...)
	if err != nil {
		return bert.Config{}, err
	}
	return bert.ConfigFromFile(path)
}

func loadEncoder(ctx context.Context, c bert.Config, path string, seed int64, logger *slog.Logger) (*bert.Model, error) {
	m, err := bert.New(c, seed)
	if err != nil {
		return nil, err
	}

	if path != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := LoadCheckpoint(m, path); err != nil {
			return nil, err
		}
		logger.Debug("loaded checkpoint", "path", path, "parameters", nn.NumParameters(m))
	}

	return m, nil
}

// LoadCheckpoint laedt Gewichte eines BertModel oder BertForPreTraining.
// Kopf-Parameter ("cls.*") und Positions-Puffer werden ignoriert, ein
// gemeinsamer "bert."-Praefix wird entfernt. path darf eine hf:// Referenz
// in den lokalen HuggingFace Cache sein.
func LoadCheckpoint(m nn.Module, path string) error {
	path, err := huggingface.Resolve(path, huggingface.CheckpointFiles...)
	if err != nil {
		return err
	}

	sd, err := checkpoint.Load(path)
	if err != nil {
		return err
	}

	sd = sd.Filter(func(name string) bool {
		for _, prefix := range checkpointSkip {
			if strings.HasPrefix(name, prefix) {
				return false
			}
		}
		return !strings.HasSuffix(name, "position_ids")
	})

	if err := nn.LoadStateDict(m, sd.TrimPrefix("bert."), true); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
