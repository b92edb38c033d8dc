package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Ring:       RingConfig{ListenIP: "0.0.0.0", ListenPort: 9000, Priority: 1},
		Gossip:     GossipConfig{IntervalMS: 5000, FanoutPeers: 2},
		Dispatcher: DispatcherConfig{WorkersCount: 4, StoragePort: 8080, QueueCapacity: 1024},
		Catalog:    CatalogConfig{DSN: "postgres://localhost/test"},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	c := validConfig()
	assert.NoError(t, c.Validate())
}

func TestValidateRejectsNegativeWorkers(t *testing.T) {
	c := validConfig()
	c.Dispatcher.WorkersCount = -1
	assert.Error(t, c.Validate())
}

func TestValidateRejectsZeroGossipInterval(t *testing.T) {
	c := validConfig()
	c.Gossip.IntervalMS = 0
	assert.Error(t, c.Validate())
}

func TestValidateRejectsPortOutOfRange(t *testing.T) {
	c := validConfig()
	c.Ring.ListenPort = 70000
	assert.Error(t, c.Validate())
}

func TestValidateRejectsEmptyDSN(t *testing.T) {
	c := validConfig()
	c.Catalog.DSN = ""
	assert.Error(t, c.Validate())
}

func TestGossipTimeoutsDeriveFromInterval(t *testing.T) {
	g := GossipConfig{IntervalMS: 1000}
	assert.Equal(t, g.Interval()*3, g.FailureTimeout())
	assert.Equal(t, g.Interval()*6, g.ForgetTimeout())
}

func TestGossipTimeoutsHonorExplicitOverride(t *testing.T) {
	g := GossipConfig{IntervalMS: 1000, FailureTimeoutMS: 500, ForgetTimeoutMS: 900}
	assert.Equal(t, 500*time.Millisecond, g.FailureTimeout())
	assert.Equal(t, 900*time.Millisecond, g.ForgetTimeout())
}
