// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package headless

import (
	"net/url"
	"sync/atomic"
	"testing"
)

func TestBufferPool_Bounded(t *testing.T) {
	var ids atomic.Uint64
	p := newBufferPool(2, &ids)

	a := p.get(4, 4)
	b := p.get(4, 4)
	if a == nil || b == nil {
		t.Fatal("pool should hand out two buffers")
	}
	if p.get(4, 4) != nil {
		t.Fatal("pool should be exhausted")
	}
	if got := p.inFlight(); got != 2 {
		t.Errorf("inFlight() = %d, want 2", got)
	}

	a.Release()
	a.Release()
	if got := p.inFlight(); got != 1 {
		t.Errorf("inFlight() after release = %d, want 1", got)
	}

	c := p.get(8, 2)
	if c != a {
		t.Error("released buffer should be reused")
	}
	if w, h := c.Size(); w != 8 || h != 2 || len(c.pixels) != 64 {
		t.Errorf("reused buffer not resized: %dx%d, %d bytes", w, h, len(c.pixels))
	}
}

func TestBuffer_ImportAfterRelease(t *testing.T) {
	var ids atomic.Uint64
	p := newBufferPool(1, &ids)
	b := p.get(1, 1)

	h, err := b.ImportImage()
	if err != nil {
		t.Fatalf("ImportImage failed: %v", err)
	}
	if uint64(h) != b.ID() {
		t.Errorf("handle = %d, want %d", h, b.ID())
	}

	b.Release()
	if _, err := b.ImportImage(); err == nil {
		t.Error("ImportImage after Release should fail")
	}
}

func TestCertificateErrors(t *testing.T) {
	tests := []struct {
		uri  string
		want uint32
	}{
		{"https://self-signed.example.com/", 1},
		{"https://expired.example.com/", 8},
		{"http://self-signed.example.com/", 0},
		{"https://example.com/", 0},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.uri)
		if err != nil {
			t.Fatal(err)
		}
		if got := uint32(certificateErrors(u)); got != tt.want {
			t.Errorf("certificateErrors(%q) = %d, want %d", tt.uri, got, tt.want)
		}
	}
}
