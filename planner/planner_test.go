/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package planner

import (
	"context"
	"math/rand"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudwego/iocore/dmafile"
	"github.com/cloudwego/iocore/reactor"
)

func newTestFile(t *testing.T) *dmafile.DmaFile {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("planner requires Linux io_uring")
	}
	react, err := reactor.New()
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	t.Cleanup(func() { react.Close() })

	dir := t.TempDir()
	f, err := dmafile.Create(react, filepath.Join(dir, "planner"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// writePattern fills [0, n) with byte(i), wrapping mod 256, so any window's
// expected contents are cheap to recompute.
func writePattern(t *testing.T, f *dmafile.DmaFile, n int) {
	t.Helper()
	size := int(f.AlignUp(uint64(n)))
	buf, err := f.AllocDmaBuffer(size)
	require.NoError(t, err)
	data := buf.Bytes()
	for i := range data {
		data[i] = byte(i)
	}
	_, err = f.WriteAt(buf, 0)
	require.NoError(t, err)
	buf.Release()
	require.NoError(t, f.Fdatasync())
}

// TestReadManyPreservesInputOrder is the Dma-2 scenario: 512 iovecs of
// (i*8, 8) submitted in random shuffled order under NoMerging +
// NoAmplification must still be delivered in the caller's original order,
// each with exactly the bytes a standalone ReadAt(i*8, 8) would return.
func TestReadManyPreservesInputOrder(t *testing.T) {
	f := newTestFile(t)
	writePattern(t, f, 512*8)

	iovecs := make([]IoVec, 512)
	for i := range iovecs {
		iovecs[i] = IoVec{Pos: uint64(i * 8), Size: 8}
	}
	shuffled := append([]IoVec(nil), iovecs...)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	cfg := Config{MergedBufferLimit: NoMerging, ReadAmplificationLimit: NoAmplification}
	res := ReadMany(context.Background(), f, shuffled, cfg)

	for i, want := range shuffled {
		entry, ok, err := res.Next(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, entry.IoVec, "entry %d", i)
		require.Equal(t, 8, entry.Res.Len())
		for j, b := range entry.Res.Bytes() {
			require.Equal(t, byte(int(want.Pos)+j), b)
		}
		entry.Res.Release()
	}

	_, ok, err := res.Next(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

// TestReadManyMergesAdjacentIovecs checks that with merging enabled,
// adjacent small iovecs still each report their own exact bytes even though
// they share one underlying system read.
func TestReadManyMergesAdjacentIovecs(t *testing.T) {
	f := newTestFile(t)
	writePattern(t, f, 4096)

	iovecs := []IoVec{
		{Pos: 0, Size: 100},
		{Pos: 100, Size: 100},
		{Pos: 200, Size: 100},
	}
	cfg := DefaultConfig()
	res := ReadMany(context.Background(), f, iovecs, cfg)

	for _, want := range iovecs {
		entry, ok, err := res.Next(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, entry.IoVec)
		require.Equal(t, int(want.Size), entry.Res.Len())
		for j, b := range entry.Res.Bytes() {
			require.Equal(t, byte(int(want.Pos)+j), b)
		}
		entry.Res.Release()
	}
}

func TestPlanGroupsNoMergingOneGroupPerIovec(t *testing.T) {
	f := newTestFile(t)
	iovecs := []IoVec{{Pos: 0, Size: 8}, {Pos: 8, Size: 8}, {Pos: 4096, Size: 8}}
	groups := planGroups(f, iovecs, Config{MergedBufferLimit: NoMerging, ReadAmplificationLimit: NoAmplification})
	require.Len(t, groups, 3)
}

func TestPlanGroupsMergesAdjacent(t *testing.T) {
	f := newTestFile(t)
	iovecs := []IoVec{{Pos: 0, Size: 8}, {Pos: 8, Size: 8}}
	groups := planGroups(f, iovecs, DefaultConfig())
	require.Len(t, groups, 1)
	require.Len(t, groups[0].members, 2)
}
