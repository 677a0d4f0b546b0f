package classify

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed manifest.cue
var manifestSchema string

// ManifestFile is the manifest file name looked up in the asset directory.
// CUE is a superset of JSON, so a plain JSON manifest is accepted too.
const ManifestFile = "manifest.cue"

// Manifest describes a model and the shape the classifier expects of it.
type Manifest struct {
	Name         string `json:"name"`
	Model        string `json:"model"`
	Labels       string `json:"labels"`
	SampleRate   int    `json:"sample_rate"`
	OutputWidth  int    `json:"output_width"`
	InputSamples int    `json:"input_samples"`
}

// DefaultManifest is used when the asset directory has no manifest.
func DefaultManifest() Manifest {
	return Manifest{
		Name:        "yamnet",
		Model:       "yamnet.tflite",
		Labels:      "yamnet_labels.txt",
		SampleRate:  16000,
		OutputWidth: 521,
	}
}

// ManifestError reports a manifest that failed schema validation.
type ManifestError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ManifestError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ParseManifest validates data against the embedded schema, filling in
// defaults for omitted fields. Unknown fields are rejected.
func ParseManifest(data []byte, filename string) (Manifest, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(manifestSchema, cue.Filename("manifest-schema.cue"))
	if err := schema.Err(); err != nil {
		return Manifest{}, fmt.Errorf("compile manifest schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Manifest"))

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Manifest{}, formatCUEError(err)
	}

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Manifest{}, formatCUEError(err)
	}

	var m Manifest
	if err := unified.Decode(&m); err != nil {
		return Manifest{}, formatCUEError(err)
	}
	return m, nil
}

// LoadManifest reads the manifest from dir. found is false (with the
// default manifest) when dir has none.
func LoadManifest(dir string) (m Manifest, found bool, err error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultManifest(), false, nil
	}
	if err != nil {
		return Manifest{}, false, fmt.Errorf("read manifest: %w", err)
	}

	m, err = ParseManifest(data, path)
	if err != nil {
		return Manifest{}, true, err
	}
	return m, true, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	field := "manifest"
	if path := first.Path(); len(path) > 0 {
		field = path[len(path)-1]
	}
	msg := first.Error()
	if positions := errors.Positions(first); len(positions) > 0 {
		return &ManifestError{Field: field, Message: msg, Pos: positions[0]}
	}
	return &ManifestError{Field: field, Message: msg}
}
