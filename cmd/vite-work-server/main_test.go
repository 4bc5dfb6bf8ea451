package main

import (
	"testing"

	"github.com/JeanOUINA/vite-work-server/internal/gpuworker"
)

func TestParseGPUSpec(t *testing.T) {
	cases := []struct {
		spec          string
		wantPlatform  int
		wantDevice    int
		wantLocalWork uint64
		wantErr       bool
	}{
		{spec: "0:1", wantPlatform: 0, wantDevice: 1, wantLocalWork: gpuworker.DefaultLocalWorkSize},
		{spec: "2:3:512", wantPlatform: 2, wantDevice: 3, wantLocalWork: 512},
		{spec: "0", wantErr: true},
		{spec: "0:1:2:3", wantErr: true},
		{spec: "a:1", wantErr: true},
		{spec: "0:b", wantErr: true},
		{spec: "0:1:c", wantErr: true},
	}

	for _, c := range cases {
		platform, device, lws, err := parseGPUSpec(c.spec)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseGPUSpec(%q): expected error, got none", c.spec)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseGPUSpec(%q): unexpected error: %v", c.spec, err)
			continue
		}
		if platform != c.wantPlatform || device != c.wantDevice || lws != c.wantLocalWork {
			t.Errorf("parseGPUSpec(%q) = (%d, %d, %d), want (%d, %d, %d)",
				c.spec, platform, device, lws, c.wantPlatform, c.wantDevice, c.wantLocalWork)
		}
	}
}
