// Package config loads Graft's process configuration from JSON, using
// json-iterator/go for Marshal/Unmarshal (the teacher's own choice for
// JSON throughout api/apc and cmn/cos, kept here rather than falling
// back to encoding/json).
package config

import (
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is one process's full configuration: a node runs either a
// metastore, a pagestore, or a client, but all three share this struct so
// a single config file can describe a whole local cluster for tests.
type Config struct {
	DataDir string `json:"data_dir"`

	Metastore struct {
		ListenAddr string `json:"listen_addr"`
	} `json:"metastore"`

	Pagestore struct {
		ListenAddr      string `json:"listen_addr"`
		ObjectStoreURL  string `json:"object_store_url"` // file://, s3://, az://, gs://
		SegmentCacheCap int    `json:"segment_cache_capacity"`
	} `json:"pagestore"`

	Client struct {
		MetastoreAddr  string        `json:"metastore_addr"`
		PagestoreAddr  string        `json:"pagestore_addr"`
		SyncInterval   time.Duration `json:"sync_interval"`
		HydrateWorkers int           `json:"hydrate_workers"`
	} `json:"client"`

	Auth struct {
		KeyFile string `json:"key_file"`
	} `json:"auth"`
}

// Default returns a Config suitable for a single-process local demo: a
// file:// object store under DataDir, loopback addresses, modest
// concurrency.
func Default(dataDir string) *Config {
	c := &Config{DataDir: dataDir}
	c.Metastore.ListenAddr = "127.0.0.1:7070"
	c.Pagestore.ListenAddr = "127.0.0.1:7071"
	c.Pagestore.ObjectStoreURL = "file://" + dataDir + "/objects"
	c.Pagestore.SegmentCacheCap = 64
	c.Client.MetastoreAddr = "http://127.0.0.1:7070"
	c.Client.PagestoreAddr = "http://127.0.0.1:7071"
	c.Client.SyncInterval = time.Second
	c.Client.HydrateWorkers = 8
	return c
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c := &Config{}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) Save(path string) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
