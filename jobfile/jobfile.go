// Package jobfile loads batch job specifications from YAML, TOML or JSON.
//
//	app: "1877265245566922753"
//	name: portrait
//	fields:              # shared by every job, overridable per job
//	  - {node: "52", field: steps, kind: number, value: 30}
//	jobs:
//	  - name: alice
//	    fields:
//	      - {node: "39", field: image, file: ./in/alice.png}
//	      - {node: "6", field: text, value: "a watercolor portrait"}
//
// Relative file paths are resolved against the job file's directory.
package jobfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/pulse/batch"
)

// Format is a job file encoding
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// File is the on-disk job file
type File struct {
	App    string     `yaml:"app" toml:"app" json:"app"`
	Name   string     `yaml:"name" toml:"name" json:"name"`
	Fields []FieldDef `yaml:"fields" toml:"fields" json:"fields"`
	Jobs   []JobDef   `yaml:"jobs" toml:"jobs" json:"jobs"`
}

// JobDef is one job. App and Name default to the file's.
type JobDef struct {
	Name   string     `yaml:"name" toml:"name" json:"name"`
	App    string     `yaml:"app" toml:"app" json:"app"`
	Fields []FieldDef `yaml:"fields" toml:"fields" json:"fields"`
}

// FieldDef sets one node field. Exactly one of Value, File or Remote is set.
type FieldDef struct {
	Node   string `yaml:"node" toml:"node" json:"node"`
	Field  string `yaml:"field" toml:"field" json:"field"`
	Kind   string `yaml:"kind" toml:"kind" json:"kind"`
	Value  any    `yaml:"value" toml:"value" json:"value"`
	File   string `yaml:"file" toml:"file" json:"file"`
	Remote string `yaml:"remote" toml:"remote" json:"remote"`
}

// FormatForPath picks the format from the file extension
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", errors.WithHint(
			errors.Newf("unsupported job file %s", filepath.Base(path)),
			"use a .yaml, .yml, .toml or .json file")
	}
}

// Load reads a job file and returns its job specifications in file order
func Load(path string) ([]batch.JobSpec, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read job file %s", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", path)
	}
	specs, err := Parse(data, format, filepath.Dir(abs))
	if err != nil {
		return nil, errors.Wrapf(err, "job file %s", path)
	}
	return specs, nil
}

// Parse decodes job file content. Unknown keys are rejected so a typo
// never silently drops a field.
func Parse(data []byte, format Format, baseDir string) ([]batch.JobSpec, error) {
	f, err := Decode(data, format)
	if err != nil {
		return nil, err
	}
	return f.Specs(baseDir)
}

// Decode decodes job file content without building specs
func Decode(data []byte, format Format) (*File, error) {
	var f File
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, errors.Wrap(err, "invalid YAML")
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, errors.Wrap(err, "invalid TOML")
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			sort.Strings(keys)
			return nil, errors.WithHint(
				errors.Newf("unknown keys: %s", strings.Join(keys, ", ")),
				"valid keys are app, name, fields and jobs; fields take node, field, kind, value, file or remote")
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, errors.Wrap(err, "invalid JSON")
		}
	default:
		return nil, errors.Newf("unknown job file format %q", format)
	}
	return &f, nil
}

// Specs builds the job specifications. Shared fields come first; a job
// field with the same node and name replaces the shared one in place.
func (f *File) Specs(baseDir string) ([]batch.JobSpec, error) {
	if len(f.Jobs) == 0 {
		return nil, errors.WithHint(errors.New("no jobs defined"), "add at least one entry under jobs")
	}

	shared := make([]batch.Field, 0, len(f.Fields))
	for i, def := range f.Fields {
		field, err := def.build(baseDir)
		if err != nil {
			return nil, errors.Wrapf(err, "shared field %d", i)
		}
		shared = append(shared, field)
	}

	specs := make([]batch.JobSpec, 0, len(f.Jobs))
	for i, job := range f.Jobs {
		spec := batch.JobSpec{App: job.App, TaskName: job.Name}
		if spec.App == "" {
			spec.App = f.App
		}
		if spec.App == "" {
			return nil, errors.Newf("job %d: no app id (set app at the top or on the job)", i)
		}
		if spec.TaskName == "" {
			spec.TaskName = f.Name
		}

		spec.Fields = append(spec.Fields, shared...)
		for j, def := range job.Fields {
			field, err := def.build(baseDir)
			if err != nil {
				return nil, errors.Wrapf(err, "job %d field %d", i, j)
			}
			spec.Fields = override(spec.Fields, field)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func override(fields []batch.Field, field batch.Field) []batch.Field {
	for i := range fields {
		if fields[i].NodeID == field.NodeID && fields[i].Name == field.Name {
			fields[i] = field
			return fields
		}
	}
	return append(fields, field)
}

func (d FieldDef) build(baseDir string) (batch.Field, error) {
	if d.Node == "" || d.Field == "" {
		return batch.Field{}, errors.New("node and field are required")
	}

	set := 0
	for _, present := range []bool{d.Value != nil, d.File != "", d.Remote != ""} {
		if present {
			set++
		}
	}
	if set != 1 {
		return batch.Field{}, errors.Newf("node %s field %s: set exactly one of value, file or remote", d.Node, d.Field)
	}

	kind, err := d.kind()
	if err != nil {
		return batch.Field{}, errors.Wrapf(err, "node %s field %s", d.Node, d.Field)
	}

	field := batch.Field{NodeID: d.Node, Name: d.Field}
	switch {
	case d.File != "":
		path := d.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		field.Value, err = batch.NewAttachment(kind, path)
	case d.Remote != "":
		field.Value, err = batch.NewRemoteAttachment(kind, d.Remote)
	default:
		field.Value, err = batch.ParseValue(kind, fmt.Sprint(d.Value))
	}
	if err != nil {
		return batch.Field{}, errors.Wrapf(err, "node %s field %s", d.Node, d.Field)
	}
	return field, nil
}

// kind resolves the declared kind, inferring it when omitted
func (d FieldDef) kind() (batch.FieldKind, error) {
	if d.Kind != "" {
		return batch.ParseFieldKind(d.Kind)
	}
	name := d.File
	if name == "" {
		name = d.Remote
	}
	if name == "" {
		switch d.Value.(type) {
		case bool:
			return batch.KindBoolean, nil
		case int, int64, uint64, float64:
			return batch.KindNumber, nil
		default:
			return batch.KindText, nil
		}
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif", ".bmp":
		return batch.KindImage, nil
	case ".mp3", ".wav", ".flac", ".ogg", ".m4a":
		return batch.KindAudio, nil
	case ".mp4", ".mov", ".webm", ".mkv", ".avi":
		return batch.KindVideo, nil
	default:
		return "", errors.Newf("cannot infer kind of %s, set kind explicitly", name)
	}
}
