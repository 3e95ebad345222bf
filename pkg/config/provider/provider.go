// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package provider fetches the raw configuration document from a file or a
// key-value store (Consul, etcd, ZooKeeper) and signals when it changes.
package provider

import (
	"context"
	"fmt"
)

// Type names a configuration source.
type Type string

const (
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

var typeAliases = map[string]Type{
	"":          TypeFile,
	"file":      TypeFile,
	"consul":    TypeConsul,
	"etcd":      TypeEtcd,
	"zookeeper": TypeZookeeper,
	"zk":        TypeZookeeper,
}

// ParseType resolves a source name, including the "zk" alias.
func ParseType(s string) (Type, error) {
	t, ok := typeAliases[s]
	if !ok {
		return "", fmt.Errorf("unknown provider type: %s", s)
	}
	return t, nil
}

// Provider is a configuration source. Implementations are safe for
// concurrent use.
type Provider interface {
	Type() Type

	// Load returns the current document.
	Load(ctx context.Context) ([]byte, error)

	// Watch returns a channel that receives a value whenever the document
	// changes, until ctx ends. A nil channel means the source cannot be
	// watched.
	Watch(ctx context.Context) (<-chan struct{}, error)

	Close() error
}

// ProviderConfig selects and addresses a source.
type ProviderConfig struct {
	Type Type

	// Path is the file path, or the key for remote sources.
	Path string

	// Endpoints of a remote source. Its local default is used when empty.
	Endpoints []string
}

type remote struct {
	defaultEndpoint string
	open            func(endpoints []string, key string) (Provider, error)
}

var remotes = map[Type]remote{
	TypeConsul: {"localhost:8500", func(endpoints []string, key string) (Provider, error) {
		// The Consul client talks to a single agent.
		return NewConsulProvider(endpoints[0], key)
	}},
	TypeEtcd: {"localhost:2379", func(endpoints []string, key string) (Provider, error) {
		return NewEtcdProvider(endpoints, key)
	}},
	TypeZookeeper: {"localhost:2181", func(endpoints []string, key string) (Provider, error) {
		return NewZookeeperProvider(endpoints, key)
	}},
}

// New creates the provider described by cfg.
func New(cfg ProviderConfig) (Provider, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if cfg.Type == "" || cfg.Type == TypeFile {
		return NewFileProvider(cfg.Path)
	}

	r, ok := remotes[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
	endpoints := cfg.Endpoints
	if len(endpoints) == 0 {
		endpoints = []string{r.defaultEndpoint}
	}
	return r.open(endpoints, cfg.Path)
}

// notify performs a non-blocking send; a pending signal already covers the change.
func notify(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
