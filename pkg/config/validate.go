package config

import (
	"context"
	"errors"
	"fmt"

	"ArbRelay/pkg/validate"
)

// ValidateRelay checks the sections cmd/relay reads.
func (c *Config) ValidateRelay() error {
	return c.check(
		section{"log", &c.Log},
		section{"server", &c.Server},
		section{"relay", &c.Relay},
		section{"redis", &c.Redis},
	)
}

// ValidateAgent checks the sections cmd/agent reads.
func (c *Config) ValidateAgent() error {
	return c.check(
		section{"log", &c.Log},
		section{"server", &c.Server},
		section{"agent", &c.Agent},
		section{"agent.publish", &c.Agent.Publish},
		section{"broker", &c.Broker},
		section{"scan", &c.Scan},
		section{"bus", &c.Bus},
		section{"kafka", &c.Kafka},
	)
}

// ValidateArchiver checks the sections cmd/archiver reads. The archiver needs a reachable bus.
func (c *Config) ValidateArchiver() error {
	if err := c.check(
		section{"log", &c.Log},
		section{"archiver.server", &c.Archiver.Server},
		section{"archiver", &c.Archiver},
		section{"bus", &c.Bus},
		section{"kafka", &c.Kafka},
		section{"clickhouse", &c.ClickHouse},
	); err != nil {
		return err
	}
	if c.Bus.Backend == "kafka" && (!c.Kafka.Enabled || len(c.Kafka.Brokers) == 0) {
		return errors.New("kafka: brokers are required for the archiver")
	}
	if c.ClickHouse.Host == "" {
		return errors.New("clickhouse: host is required for the archiver")
	}
	return nil
}

type section struct {
	name string
	v    interface{}
}

func (c *Config) check(sections ...section) error {
	var errs []error
	for _, s := range sections {
		if err := validate.Struct(context.Background(), s.v); err != nil {
			for _, fe := range validate.Describe(err) {
				errs = append(errs, fmt.Errorf("%s: %s", s.name, fe.Message))
			}
		}
	}
	return errors.Join(errs...)
}
