package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSample(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Sample
		wantErr bool
	}{
		{
			name: "CSV",
			line: "1023.5,25.0",
			want: Sample{Raw: 1023.5, Reference: 25.0},
		},
		{
			name: "CSV with spaces",
			line: " 3300 , 0 ",
			want: Sample{Raw: 3300, Reference: 0},
		},
		{
			name: "JSON",
			line: `{"raw": 4100, "reference": 90}`,
			want: Sample{Raw: 4100, Reference: 90},
		},
		{
			name:    "malformed JSON",
			line:    `{"raw": `,
			wantErr: true,
		},
		{
			name:    "too many fields",
			line:    "1,2,3",
			wantErr: true,
		},
		{
			name:    "non-numeric raw",
			line:    "abc,2",
			wantErr: true,
		},
		{
			name:    "non-numeric reference",
			line:    "1,xyz",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSample(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMockPort_Monitor(t *testing.T) {
	fixture := []byte("3300,0\n\nnot a sample\n3750,10\n" + `{"raw": 3800, "reference": 40}` + "\n")
	m := NewMockPort(fixture)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Monitor(ctx) }()

	// Blank and unparseable lines are skipped, valid ones delivered in order.
	want := []Sample{
		{Raw: 3300, Reference: 0},
		{Raw: 3750, Reference: 10},
		{Raw: 3800, Reference: 40},
	}
	for i, w := range want {
		select {
		case got := <-m.Samples():
			assert.Equal(t, w, got, "sample %d", i)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for sample %d", i)
		}
	}

	// After the fixture is drained, Monitor blocks until cancellation.
	select {
	case err := <-done:
		t.Fatalf("Monitor returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancellation")
	}
}

func TestMockPort_MonitorCancelledMidStream(t *testing.T) {
	// No consumer on the samples channel: Monitor must still unblock when
	// the context is cancelled.
	m := NewMockPort([]byte("1,2\n3,4\n"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Monitor(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancellation")
	}
}
