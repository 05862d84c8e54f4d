package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"calculogic/internal/builder"
)

// seedFile is the YAML fixture loaded by the seed command. Items refer to
// configurations and knowledge entries by their key in the same file.
type seedFile struct {
	Owner          string              `yaml:"owner" validate:"required"`
	Admin          bool                `yaml:"admin"`
	Configurations []seedConfiguration `yaml:"configurations" validate:"dive"`
	Knowledge      []seedKnowledge     `yaml:"knowledge" validate:"dive"`
	Items          []seedItem          `yaml:"items" validate:"dive"`
}

type seedConfiguration struct {
	Key        string   `yaml:"key" validate:"required"`
	Title      string   `yaml:"title" validate:"required"`
	Document   any      `yaml:"document" validate:"required"`
	Categories []string `yaml:"categories"`
}

type seedKnowledge struct {
	Key     string `yaml:"key" validate:"required"`
	Title   string `yaml:"title" validate:"required"`
	Content string `yaml:"content"`
}

type seedItem struct {
	Title          string   `yaml:"title" validate:"required"`
	Type           string   `yaml:"type" validate:"required,oneof=calculator quiz template"`
	Content        string   `yaml:"content"`
	Status         string   `yaml:"status" validate:"omitempty,oneof=draft published"`
	Categories     []string `yaml:"categories"`
	Configurations []string `yaml:"configurations"`
	Knowledge      []string `yaml:"knowledge"`
	Settings       any      `yaml:"settings"`
}

// seedReport counts what a seed run created.
type seedReport struct {
	Configurations int
	Knowledge      int
	Items          int
}

func loadSeed(path string) (seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return seedFile{}, fmt.Errorf("read seed file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var seed seedFile
	if err := dec.Decode(&seed); err != nil {
		return seedFile{}, fmt.Errorf("decode seed file %s: %w", path, err)
	}
	if err := validator.New().Struct(seed); err != nil {
		return seedFile{}, fmt.Errorf("invalid seed file %s: %w", path, err)
	}
	return seed, nil
}

// applySeed creates every configuration, knowledge entry and item of seed
// through svc, as the seed owner.
func applySeed(ctx context.Context, svc *builder.Service, seed seedFile) (seedReport, error) {
	var report seedReport
	p := builder.Principal{UserID: seed.Owner, Admin: seed.Admin}

	configIDs := make(map[string]string, len(seed.Configurations))
	for _, sc := range seed.Configurations {
		if _, dup := configIDs[sc.Key]; dup {
			return report, fmt.Errorf("configuration key %q is used twice", sc.Key)
		}
		doc, err := json.Marshal(sc.Document)
		if err != nil {
			return report, fmt.Errorf("configuration %q: %w", sc.Key, err)
		}
		cfg, err := svc.CreateConfiguration(ctx, p, sc.Title, doc, sc.Categories...)
		if err != nil {
			return report, fmt.Errorf("configuration %q: %w", sc.Key, err)
		}
		configIDs[sc.Key] = cfg.ID
		report.Configurations++
	}

	knowledgeIDs := make(map[string]string, len(seed.Knowledge))
	for _, sk := range seed.Knowledge {
		if _, dup := knowledgeIDs[sk.Key]; dup {
			return report, fmt.Errorf("knowledge key %q is used twice", sk.Key)
		}
		entry, err := svc.CreateKnowledge(ctx, p, sk.Title, sk.Content)
		if err != nil {
			return report, fmt.Errorf("knowledge %q: %w", sk.Key, err)
		}
		knowledgeIDs[sk.Key] = entry.ID
		report.Knowledge++
	}

	for _, si := range seed.Items {
		item, err := svc.Create(ctx, p, si.Title, builder.ItemType(si.Type))
		if err != nil {
			return report, fmt.Errorf("item %q: %w", si.Title, err)
		}
		fields := builder.ItemFields{Content: &si.Content}
		if si.Status != "" {
			status := builder.Status(si.Status)
			fields.Status = &status
		}
		if len(si.Categories) > 0 {
			fields.Categories = &si.Categories
		}
		if len(si.Configurations) > 0 {
			ids, err := resolveSeedKeys(configIDs, si.Configurations)
			if err != nil {
				return report, fmt.Errorf("item %q: unknown configuration key %w", si.Title, err)
			}
			fields.ConfigIDs = &ids
		}
		if len(si.Knowledge) > 0 {
			ids, err := resolveSeedKeys(knowledgeIDs, si.Knowledge)
			if err != nil {
				return report, fmt.Errorf("item %q: unknown knowledge key %w", si.Title, err)
			}
			fields.KnowledgeIDs = &ids
		}
		if si.Settings != nil {
			settings, err := json.Marshal(si.Settings)
			if err != nil {
				return report, fmt.Errorf("item %q settings: %w", si.Title, err)
			}
			fields.Settings = settings
		}
		if _, err := svc.Update(ctx, p, item.ID, fields); err != nil {
			return report, fmt.Errorf("item %q: %w", si.Title, err)
		}
		report.Items++
	}
	return report, nil
}

// resolveSeedKeys maps file keys to the ids they were created under. The
// error names the first unknown key.
func resolveSeedKeys(ids map[string]string, keys []string) ([]string, error) {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		id, ok := ids[key]
		if !ok {
			return nil, fmt.Errorf("%q", key)
		}
		out = append(out, id)
	}
	return out, nil
}
