package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// Scenario describes a scripted sequence of operations against the core, one
// entry per simulated application thread. It plays the role the host
// runtime would in production: deciding when threads start, what functions
// they call, and which get wrapped or buffered.
type Scenario struct {
	Threads []ThreadScript `json:"threads"`
}

// ThreadScript is one simulated application thread's call sequence.
type ThreadScript struct {
	Name  string     `json:"name"`
	Calls []CallStep `json:"calls"`
}

// CallStep names a function PC (by its hex string, for readability in the
// scenario file) to enter and immediately return from, exercising RegMgr's
// reserve/unreserve pair, Wrap's on_entry/on_return pair, and (if
// BufStoreBytes is non-zero) a Buf append of that many bytes.
type CallStep struct {
	FuncPC        string `json:"func_pc"`
	BufStoreBytes int    `json:"buf_store_bytes,omitempty"`
}

func loadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file %s: %w", path, err)
	}

	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario file %s: %w", path, err)
	}

	return &s, nil
}

func defaultScenario() *Scenario {
	return &Scenario{
		Threads: []ThreadScript{
			{
				Name: "worker-0",
				Calls: []CallStep{
					{FuncPC: "0x4000", BufStoreBytes: 16},
					{FuncPC: "0x4100", BufStoreBytes: 64},
				},
			},
			{
				Name: "worker-1",
				Calls: []CallStep{
					{FuncPC: "0x4000"},
				},
			},
		},
	}
}
