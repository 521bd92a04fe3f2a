package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"go-fleet/internal/fleet"
	"go-fleet/internal/transport"
)

const DefaultMaxJobs = 1

type WorkerConfig struct {
	IP       string `yaml:"ip" validate:"required,hostname|ip"`
	Port     uint16 `yaml:"port" validate:"required"`
	Capacity int    `yaml:"capacity" validate:"gte=0"`
}

// Fleet is the fleet file: known workers, command templates and the secret
// shared with the workers.
type Fleet struct {
	SocketToken     string                  `yaml:"socket_token" validate:"required"`
	MaxJobs         int                     `yaml:"max_jobs" validate:"gte=0"`
	DispatchTimeout time.Duration           `yaml:"dispatch_timeout"`
	AckMode         string                  `yaml:"ack_mode" validate:"omitempty,oneof=legacy status"`
	Workers         map[string]WorkerConfig `yaml:"workers" validate:"required,min=1,dive,keys,required,endkeys"`
	Commands        map[string]string       `yaml:"commands" validate:"required,min=1,dive,keys,required,endkeys,required"`
	StopCommand     string                  `yaml:"stop_command"`
	StopAllCommand  string                  `yaml:"stop_all_command"`
}

func Load(path string) (*Fleet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed opening fleet file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

func Parse(r io.Reader) (*Fleet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed reading fleet file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	f := Fleet{}
	if err = dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed parsing fleet file: %w", err)
	}
	if f.MaxJobs == 0 {
		f.MaxJobs = DefaultMaxJobs
	}
	if f.DispatchTimeout <= 0 {
		f.DispatchTimeout = transport.DefaultTimeout
	}
	if err = validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("invalid fleet file: %w", err)
	}
	return &f, nil
}

func (f *Fleet) Registry() (*fleet.Registry, error) {
	names := make([]string, 0, len(f.Workers))
	for name := range f.Workers {
		names = append(names, name)
	}
	sort.Strings(names)

	workers := make([]fleet.Worker, 0, len(names))
	for _, name := range names {
		worker := f.Workers[name]
		capacity := worker.Capacity
		if capacity == 0 {
			capacity = f.MaxJobs
		}
		workers = append(workers, fleet.Worker{
			Id:       fleet.WorkerId(name),
			Address:  worker.IP,
			Port:     worker.Port,
			Capacity: capacity,
		})
	}
	return fleet.NewRegistry(workers...)
}

func (f *Fleet) Templates() (*fleet.Templates, error) {
	return fleet.NewTemplates(f.Commands, f.StopCommand, f.StopAllCommand)
}

func (f *Fleet) Acknowledger() (transport.Acknowledger, error) {
	return transport.NewAcknowledger(f.AckMode)
}
