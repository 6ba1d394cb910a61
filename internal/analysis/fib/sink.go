package fib

import "fib-targets/internal/models"

// ZoneSink receives the zones the engine decides should exist. Draw with an
// ID already drawn replaces that zone.
type ZoneSink interface {
	Draw(zone models.Zone) error
	Remove(id string) error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Draw(models.Zone) error { return nil }
func (NopSink) Remove(string) error    { return nil }

// MultiSink fans calls out to several sinks and returns the first error.
// Every sink is called even if an earlier one fails.
type MultiSink []ZoneSink

func (m MultiSink) Draw(zone models.Zone) error {
	var first error
	for _, s := range m {
		if err := s.Draw(zone); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) Remove(id string) error {
	var first error
	for _, s := range m {
		if err := s.Remove(id); err != nil && first == nil {
			first = err
		}
	}
	return first
}
