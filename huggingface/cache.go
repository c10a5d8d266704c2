// cache.go - Aufloesen von Modell-Referenzen im HuggingFace Cache
// Kompatibel mit der Python huggingface_hub Cache-Struktur:
//
//	<cache>/models--<org>--<name>/refs/<revision>        -> Commit-Hash
//	<cache>/models--<org>--<name>/snapshots/<commit>/... -> Dateien
//
// Referenzen haben die Form hf://<model_id>[@<revision>][#<datei>].
// Es wird nichts heruntergeladen.
package huggingface

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Cache-Konstanten
const (
	Scheme = "hf://"

	EnvHFHome     = "HF_HOME"
	EnvHFHubCache = "HF_HUB_CACHE"

	DefaultCacheSubdir = "huggingface/hub"
	DefaultRevision    = "main"
	CacheRefDir        = "refs"
	CacheSnapshotDir   = "snapshots"
	CacheModelPrefix   = "models--"
)

// Cache-Fehler
var (
	ErrInvalidRef      = errors.New("invalid huggingface reference")
	ErrModelNotInCache = errors.New("model not in huggingface cache")
	ErrFileNotInCache  = errors.New("file not in huggingface cache")
)

// Dateinamen in Suchreihenfolge
var (
	ConfigFiles     = []string{"config.json", "bert_config.json"}
	CheckpointFiles = []string{"model.safetensors", "pytorch_model.bin"}
)

// Ref ist eine geparste hf:// Referenz
type Ref struct {
	ModelID  string
	Revision string
	File     string
}

func (r Ref) String() string {
	s := Scheme + r.ModelID
	if r.Revision != DefaultRevision {
		s += "@" + r.Revision
	}
	if r.File != "" {
		s += "#" + r.File
	}
	return s
}

// IsRef meldet ob s eine hf:// Referenz ist
func IsRef(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// ParseRef parst hf://<model_id>[@<revision>][#<datei>]
func ParseRef(s string) (Ref, error) {
	rest, ok := strings.CutPrefix(s, Scheme)
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q has no %s prefix", ErrInvalidRef, s, Scheme)
	}

	var r Ref
	rest, r.File, _ = strings.Cut(rest, "#")
	r.ModelID, r.Revision, _ = strings.Cut(rest, "@")
	if r.Revision == "" {
		r.Revision = DefaultRevision
	}

	if r.ModelID == "" || strings.Count(r.ModelID, "/") > 1 || strings.Contains(r.ModelID, "..") {
		return Ref{}, fmt.Errorf("%w: bad model id in %q", ErrInvalidRef, s)
	}
	if r.File != "" && !filepath.IsLocal(r.File) {
		return Ref{}, fmt.Errorf("%w: bad file name in %q", ErrInvalidRef, s)
	}
	return r, nil
}

// CacheDir gibt das Cache-Verzeichnis zurueck
func CacheDir() string {
	if cacheDir := os.Getenv(EnvHFHubCache); cacheDir != "" {
		return cacheDir
	}
	if hfHome := os.Getenv(EnvHFHome); hfHome != "" {
		return filepath.Join(hfHome, "hub")
	}
	return defaultCacheDir()
}

func defaultCacheDir() string {
	var baseDir string
	switch runtime.GOOS {
	case "windows":
		if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
			baseDir = filepath.Join(userProfile, ".cache")
		} else {
			baseDir = filepath.Join(os.TempDir(), "huggingface_cache")
		}
	default:
		if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
			baseDir = xdgCache
		} else if home, err := os.UserHomeDir(); err == nil {
			baseDir = filepath.Join(home, ".cache")
		} else {
			baseDir = filepath.Join(os.TempDir(), "huggingface_cache")
		}
	}
	return filepath.Join(baseDir, DefaultCacheSubdir)
}

// Snapshot gibt das Snapshot-Verzeichnis einer Revision zurueck. Die
// Revision ist ein Branch/Tag unter refs/ oder direkt ein Commit-Hash.
func Snapshot(cacheDir, modelID, revision string) (string, error) {
	modelDir := filepath.Join(cacheDir, modelIDToCacheDir(modelID))
	if _, err := os.Stat(modelDir); err != nil {
		return "", fmt.Errorf("%w: %s (%s)", ErrModelNotInCache, modelID, cacheDir)
	}

	commit := revision
	if b, err := os.ReadFile(filepath.Join(modelDir, CacheRefDir, revision)); err == nil {
		commit = strings.TrimSpace(string(b))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	snapshot := filepath.Join(modelDir, CacheSnapshotDir, commit)
	if stat, err := os.Stat(snapshot); err != nil || !stat.IsDir() {
		return "", fmt.Errorf("%w: %s revision %s", ErrModelNotInCache, modelID, revision)
	}
	return snapshot, nil
}

// Resolve gibt lokale Pfade unveraendert zurueck. Fuer hf:// Referenzen
// wird die genannte Datei oder die erste vorhandene aus candidates im
// Snapshot gesucht.
func Resolve(s string, candidates ...string) (string, error) {
	if !IsRef(s) {
		return s, nil
	}

	r, err := ParseRef(s)
	if err != nil {
		return "", err
	}

	snapshot, err := Snapshot(CacheDir(), r.ModelID, r.Revision)
	if err != nil {
		return "", err
	}

	if r.File != "" {
		candidates = []string{r.File}
	}
	for _, name := range candidates {
		path := filepath.Join(snapshot, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s has none of %s", ErrFileNotInCache, r, strings.Join(candidates, ", "))
}

func modelIDToCacheDir(modelID string) string {
	return CacheModelPrefix + strings.ReplaceAll(modelID, "/", "--")
}
