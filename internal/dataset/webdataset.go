package dataset

import (
	"archive/tar"
	"context"
	"io"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Sample is one labelled audio clip from a shard: <key>.wav paired with
// <key>.cls.
type Sample struct {
	Key   string
	Audio []byte
	Label int
}

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

// pairer joins the .wav and .cls members of a shard by key. Members of one
// clip may arrive in either order and need not be adjacent.
type pairer struct {
	cap   int
	audio map[string][]byte
	label map[string]int
}

func newPairer(capacity int) *pairer {
	if capacity <= 0 {
		capacity = defaultPendingCap
	}
	return &pairer{cap: capacity, audio: map[string][]byte{}, label: map[string]int{}}
}

func (p *pairer) pending() int {
	n := len(p.audio)
	for k := range p.label {
		if _, ok := p.audio[k]; !ok {
			n++
		}
	}
	return n
}

// add records one member and returns the finished sample, if any.
func (p *pairer) add(name string, body io.Reader) (Sample, bool, error) {
	ext := strings.ToLower(path.Ext(name))
	key := strings.TrimSuffix(path.Base(name), path.Ext(name))

	switch ext {
	case ".wav":
		data, err := io.ReadAll(body)
		if err != nil {
			return Sample{}, false, errors.Wrapf(err, "read audio %s", name)
		}
		if len(data) == 0 {
			return Sample{}, false, errors.Errorf("empty audio %s", name)
		}
		p.audio[key] = data
	case ".cls":
		raw, err := io.ReadAll(body)
		if err != nil {
			return Sample{}, false, errors.Wrapf(err, "read label %s", name)
		}
		label, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			return Sample{}, false, errors.Wrapf(err, "parse label %s", name)
		}
		p.label[key] = label
	default:
		return Sample{}, false, nil
	}

	data, okA := p.audio[key]
	label, okL := p.label[key]
	if okA && okL {
		delete(p.audio, key)
		delete(p.label, key)
		return Sample{Key: key, Audio: data, Label: label}, true, nil
	}
	if p.pending() > p.cap {
		return Sample{}, false, ErrPendingOverflow
	}
	return Sample{}, false, nil
}

// StreamShard streams paired samples from the shard named name in fsys. The
// error channel carries at most one error and is closed after the sample
// channel.
func StreamShard(ctx context.Context, fsys fs.FS, name string, pendingCap int) (<-chan Sample, <-chan error) {
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)

		f, err := fsys.Open(name)
		if err != nil {
			errCh <- errors.Wrap(err, "open shard")
			return
		}
		defer f.Close()

		tr := tar.NewReader(f)
		pairs := newPairer(pendingCap)
		for {
			if err := ctx.Err(); err != nil {
				errCh <- err
				return
			}
			hdr, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				errCh <- errors.Wrap(err, "read tar")
				return
			}
			if hdr.Typeflag != tar.TypeReg {
				continue
			}
			s, ok, err := pairs.add(hdr.Name, tr)
			if err != nil {
				errCh <- err
				return
			}
			if !ok {
				continue
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- s:
			}
		}

		if n := pairs.pending(); n > 0 {
			errCh <- errors.Errorf("%d samples incomplete", n)
		}
	}()

	return out, errCh
}

// LoadShards drains the shards in order and returns all samples. Sample
// keys are prefixed with the shard key so clips from different shards never
// collide.
func LoadShards(ctx context.Context, fsys fs.FS, shards []Shard) ([]Sample, error) {
	var samples []Sample
	for _, sh := range shards {
		stream, errCh := StreamShard(ctx, fsys, sh.Path, defaultPendingCap)
		for s := range stream {
			s.Key = sh.Key() + "/" + s.Key
			samples = append(samples, s)
		}
		if err := <-errCh; err != nil {
			return nil, errors.Wrapf(err, "shard %s", sh.Path)
		}
	}
	return samples, nil
}
