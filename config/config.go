// Package config loads the YAML-based server, model, and prompt-template
// configuration the rest of the module is wired from.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KamdynS/marathon/model"
	"github.com/KamdynS/marathon/promptmatch"
)

// LoggingConfig mirrors the original's logging section.
type LoggingConfig struct {
	LogLevel            string `yaml:"log_level"`
	EnableConsoleLogging bool  `yaml:"enable_console_logging"`
	EnableFileLogging    bool  `yaml:"enable_file_logging"`
}

// ServerConfig is the HTTP listen address.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AppConfig carries display metadata surfaced by the liveness endpoint.
type AppConfig struct {
	Title       string `yaml:"title"`
	ServiceName string `yaml:"service_name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
}

// ConcurrencyConfig bounds the scheduler's queue and timeouts.
type ConcurrencyConfig struct {
	MaxQueueSize       int     `yaml:"max_queue_size"`
	AbandonLowPriority bool    `yaml:"abandon_low_priority"`
	QueueWaitTimeout   float64 `yaml:"queue_wait_timeout"` // seconds
}

// Timeout converts QueueWaitTimeout to a time.Duration.
func (c ConcurrencyConfig) Timeout() time.Duration {
	return time.Duration(c.QueueWaitTimeout * float64(time.Second))
}

// businessConfig is one model's task-label/priority classification table.
type businessConfig struct {
	TaskLabels     []string       `yaml:"task_labels"`
	TaskPriorities map[string]int `yaml:"task_priorities"`
}

// modelYAML is the YAML shape of one models.<name> entry.
type modelYAML struct {
	ModelPath       string          `yaml:"model_path"`
	MMProjPath      string          `yaml:"mmproj_path"`
	Device          string          `yaml:"device"`
	CacheSeqNum     int             `yaml:"cache_seq_num"`
	ParallelSeqNum  int             `yaml:"parallel_seq_num"`
	TotalContextNum int             `yaml:"total_context_num"`
	ContextPerSeq   int             `yaml:"context_per_seq"`
	ChunkSize       int             `yaml:"chunk_size"`
	MaxTokens       int             `yaml:"max_tokens"`
	Business        businessConfig  `yaml:"business"`
}

// document is the top-level YAML shape of ai_engine_config.yaml.
type document struct {
	Logging           LoggingConfig        `yaml:"logging"`
	Server            ServerConfig         `yaml:"server"`
	App               AppConfig            `yaml:"app"`
	ServerConcurrency ConcurrencyConfig    `yaml:"server_concurrency"`
	AutoOptVRAM       bool                 `yaml:"auto_opt_vram"`
	Models            map[string]modelYAML `yaml:"models"`
}

// Config is the fully parsed, Go-native configuration.
type Config struct {
	Logging     LoggingConfig
	Server      ServerConfig
	App         AppConfig
	Concurrency ConcurrencyConfig
	AutoOptVRAM bool
	Models      map[string]model.Config
}

// Load parses path as the main YAML configuration document.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	models := make(map[string]model.Config, len(doc.Models))
	for name, m := range doc.Models {
		classification := make(map[string]int, len(m.Business.TaskPriorities))
		for k, v := range m.Business.TaskPriorities {
			classification[k] = v
		}
		models[name] = model.Config{
			ModelName:           name,
			ModelPath:           m.ModelPath,
			MMProjPath:          m.MMProjPath,
			Device:              m.Device,
			TotalContextNum:     m.TotalContextNum,
			ContextPerSeq:       m.ContextPerSeq,
			NSeqMax:             m.ParallelSeqNum,
			CacheSeqNum:         m.CacheSeqNum,
			ChunkSize:           m.ChunkSize,
			MaxTokens:           m.MaxTokens,
			TaskClassification:  classification,
		}
	}

	return Config{
		Logging:     doc.Logging,
		Server:      doc.Server,
		App:         doc.App,
		Concurrency: doc.ServerConcurrency,
		AutoOptVRAM: doc.AutoOptVRAM,
		Models:      models,
	}, nil
}

// promptDocument is the top-level YAML shape of prompt_config.yaml: a map of
// classification key to either a single template string (legacy "default"
// variant) or a {chinese, english} variant map.
type promptDocument struct {
	Prompts map[string]yaml.Node `yaml:"prompts"`
}

// LoadPromptTemplates parses path as the prompt-matcher template document
// and returns promptmatch.Template values in the YAML's key order.
func LoadPromptTemplates(path string) ([]promptmatch.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	promptsNode, ok := findMappingValue(&root, "prompts")
	if !ok {
		return nil, nil
	}

	var templates []promptmatch.Template
	for i := 0; i+1 < len(promptsNode.Content); i += 2 {
		key := promptsNode.Content[i].Value
		valueNode := promptsNode.Content[i+1]
		t := promptmatch.Template{Key: key, Variants: map[promptmatch.Language]string{}}
		switch valueNode.Kind {
		case yaml.ScalarNode:
			t.Variants[promptmatch.LangDefault] = valueNode.Value
			t.VariantOrder = []promptmatch.Language{promptmatch.LangDefault}
		case yaml.MappingNode:
			for j := 0; j+1 < len(valueNode.Content); j += 2 {
				lang := valueNode.Content[j].Value
				tmpl := valueNode.Content[j+1].Value
				t.Variants[promptmatch.Language(lang)] = tmpl
				t.VariantOrder = append(t.VariantOrder, promptmatch.Language(lang))
			}
		}
		templates = append(templates, t)
	}
	return templates, nil
}

func findMappingValue(root *yaml.Node, key string) (*yaml.Node, bool) {
	doc := root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil, false
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == key {
			return doc.Content[i+1], true
		}
	}
	return nil, false
}
