package media

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStreamConfigEqual(t *testing.T) {
	t.Parallel()

	a := StreamConfig{Kind: Video, MimeType: "video/avc", Extradata: []byte{1, 2, 3}}
	b := StreamConfig{Kind: Video, MimeType: "video/avc", Extradata: []byte{1, 2, 3}}
	c := StreamConfig{Kind: Video, MimeType: "video/avc", Extradata: []byte{1, 2, 4}}

	if !a.Equal(b) {
		t.Errorf("expected equal configs to compare equal: %s", cmp.Diff(a, b))
	}
	if a.Equal(c) {
		t.Errorf("expected differing extradata to compare unequal")
	}
}

func TestPacketValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		p       Packet
		wantErr bool
	}{
		{"data only", Packet{Data: []byte{1}}, false},
		{"config only", Packet{IsConfig: true}, false},
		{"eos only", Packet{IsEOS: true}, false},
		{"none set", Packet{}, true},
		{"data and eos", Packet{Data: []byte{1}, IsEOS: true}, true},
		{"config and eos", Packet{IsConfig: true, IsEOS: true}, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStreamKindString(t *testing.T) {
	t.Parallel()

	if Audio.String() != "audio" {
		t.Errorf("Audio.String() = %q", Audio.String())
	}
	if Video.String() != "video" {
		t.Errorf("Video.String() = %q", Video.String())
	}
}
