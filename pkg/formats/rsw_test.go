package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func sampleRSW(v RSWVersion) *RSW {
	return &RSW{
		Version: v,
		IniFile: "prontera.ini",
		GndFile: "prontera.gnd",
		GatFile: "prontera.gat",
		Models: []RSWModel{
			{
				Name:      "fountain01",
				AnimSpeed: 1,
				ModelName: "prontera/fountain.rsm",
				Position:  [3]float32{10, -2, 30},
				Rotation:  [3]float32{0, 90, 0},
				Scale:     [3]float32{1, 1, 1},
			},
			{
				Name:      "tree",
				ModelName: "트리/tree01.rsm",
				Position:  [3]float32{-5, 0, 5},
				Scale:     [3]float32{2, 2, 2},
			},
		},
	}
}

func TestParseRSWRoundTrip(t *testing.T) {
	versions := []RSWVersion{
		{Major: 1, Minor: 2},
		{Major: 1, Minor: 9},
		{Major: 2, Minor: 1},
		{Major: 2, Minor: 2, Build: 7},
		{Major: 2, Minor: 5, Build: 161},
		{Major: 2, Minor: 6, Build: 162},
	}
	for _, v := range versions {
		t.Run(v.String(), func(t *testing.T) {
			want := sampleRSW(v)
			if !v.AtLeast(1, 4) {
				want.GatFile = ""
			}
			data, err := want.MarshalBinary()
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}

			got, err := ParseRSW(data)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got.Version != v {
				t.Errorf("version = %s, want %s", got.Version, v)
			}
			if got.GndFile != want.GndFile || got.GatFile != want.GatFile {
				t.Errorf("files = %q %q", got.GndFile, got.GatFile)
			}
			if len(got.Models) != len(want.Models) {
				t.Fatalf("models = %d, want %d", len(got.Models), len(want.Models))
			}
			for i := range want.Models {
				if got.Models[i] != want.Models[i] {
					t.Errorf("model %d = %+v, want %+v", i, got.Models[i], want.Models[i])
				}
			}
		})
	}
}

func TestParseRSWSkipsOtherObjects(t *testing.T) {
	v := RSWVersion{Major: 2, Minor: 1}
	data, err := (&RSW{Version: v}).MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	// The object count is the last field of an empty world.
	data = data[:len(data)-4]

	var body bytes.Buffer
	w := func(x any) { _ = binary.Write(&body, binary.LittleEndian, x) }
	w(int32(4))
	w(RSWObjectLight)
	body.Write(make([]byte, rswLightSize))
	w(RSWObjectSound)
	body.Write(make([]byte, rswSoundBaseSize+4))
	w(RSWObjectEffect)
	body.Write(make([]byte, rswEffectSize))
	w(RSWObjectModel)
	model := make([]byte, rswObjectName+12+2*rswLongNameSize+36)
	copy(model[rswObjectName+12:], "a.rsm")
	body.Write(model)

	got, err := ParseRSW(append(data, body.Bytes()...))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got.Models) != 1 || got.Models[0].ModelName != "a.rsm" {
		t.Errorf("models = %+v", got.Models)
	}
	for _, kind := range []RSWObjectType{RSWObjectLight, RSWObjectSound, RSWObjectEffect} {
		if got.Skipped[kind] != 1 {
			t.Errorf("skipped[%d] = %d, want 1", kind, got.Skipped[kind])
		}
	}
}

func TestParseRSWErrors(t *testing.T) {
	valid, err := sampleRSW(RSWVersion{Major: 2, Minor: 1}).MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	unknown, _ := (&RSW{Version: RSWVersion{Major: 2, Minor: 1}}).MarshalBinary()
	unknown = append(unknown[:len(unknown)-4], 1, 0, 0, 0, 9, 0, 0, 0)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncatedRSWData},
		{"bad magic", []byte("XXXX\x02\x01"), ErrInvalidRSWMagic},
		{"version 3.0", []byte("GRSW\x03\x00"), ErrUnsupportedRSWVersion},
		{"version 2.7", []byte("GRSW\x02\x07"), ErrUnsupportedRSWVersion},
		{"truncated header", valid[:50], ErrTruncatedRSWData},
		{"truncated model", valid[:len(valid)-10], ErrTruncatedRSWData},
		{"unknown object", unknown, ErrUnknownObjectType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRSW(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRSWVersionAtLeast(t *testing.T) {
	v := RSWVersion{Major: 2, Minor: 1}
	if !v.AtLeast(1, 9) || !v.AtLeast(2, 1) || v.AtLeast(2, 2) {
		t.Errorf("AtLeast wrong for %s", v)
	}
	if got := (RSWVersion{Major: 2, Minor: 5, Build: 161}).String(); got != "2.5.161" {
		t.Errorf("String = %q", got)
	}
}
