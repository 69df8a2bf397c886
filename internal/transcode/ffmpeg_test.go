package transcode

import (
	"context"
	"strings"
	"testing"
)

func TestArgs(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{
			name: "raw opus defaults",
			opts: Options{Container: "raw"},
			want: "-hide_banner -loglevel error -f ogg -i pipe:0 -f s16le -acodec pcm_s16le -ac 1 -ar 16000 pipe:1",
		},
		{
			name: "ogg container",
			opts: Options{Container: "ogg"},
			want: "-hide_banner -loglevel error -f ogg -i pipe:0 -f s16le -acodec pcm_s16le -ac 1 -ar 16000 pipe:1",
		},
		{
			name: "webm container",
			opts: Options{Container: "webm"},
			want: "-hide_banner -loglevel error -f webm -i pipe:0 -f s16le -acodec pcm_s16le -ac 1 -ar 16000 pipe:1",
		},
		{
			name: "custom target rate",
			opts: Options{Container: "ogg", TargetRateHz: 8000, Channels: 2},
			want: "-hide_banner -loglevel error -f ogg -i pipe:0 -f s16le -acodec pcm_s16le -ac 2 -ar 8000 pipe:1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(tt.opts.withDefaults().args(), " ")
			if got != tt.want {
				t.Errorf("args mismatch:\n got  %s\n want %s", got, tt.want)
			}
		})
	}
}

func TestStart_MissingBinary(t *testing.T) {
	_, err := Start(context.Background(), Options{
		BinPath:   "/nonexistent/ffmpeg",
		Container: "ogg",
	})
	if err == nil {
		t.Fatal("expected error starting a nonexistent binary")
	}
}
