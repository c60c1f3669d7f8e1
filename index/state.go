package index

import (
	"cmp"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/vecstore/model"
)

type chunkKey struct {
	file  string
	chunk string
}

// state is one complete generation of the indexes.
type state struct {
	ords    map[string]uint32
	meta    map[uint32]model.IndexMetadata
	nextOrd uint32
	free    []uint32 // ordinals released by remove

	byFile  map[string]*roaring.Bitmap
	byModel map[string]*roaring.Bitmap
	byHash  map[string]*roaring.Bitmap
	byChunk map[chunkKey]*roaring.Bitmap
	byHour  map[int64]*roaring.Bitmap
}

func newState() *state {
	return &state{
		ords:    make(map[string]uint32),
		meta:    make(map[uint32]model.IndexMetadata),
		byFile:  make(map[string]*roaring.Bitmap),
		byModel: make(map[string]*roaring.Bitmap),
		byHash:  make(map[string]*roaring.Bitmap),
		byChunk: make(map[chunkKey]*roaring.Bitmap),
		byHour:  make(map[int64]*roaring.Bitmap),
	}
}

func addPosting[K comparable](m map[K]*roaring.Bitmap, k K, ord uint32) {
	bm, ok := m[k]
	if !ok {
		bm = roaring.New()
		m[k] = bm
	}
	bm.Add(ord)
}

func removePosting[K comparable](m map[K]*roaring.Bitmap, k K, ord uint32) {
	bm, ok := m[k]
	if !ok {
		return
	}
	bm.Remove(ord)
	if bm.IsEmpty() {
		delete(m, k)
	}
}

// add indexes md, replacing any previous generation of the same id. A known
// id keeps its ordinal and a new id takes a freed one before growing the range.
func (s *state) add(md model.IndexMetadata) {
	ord, known := s.ords[md.ID]
	switch {
	case known:
		s.unindex(ord)
	case len(s.free) > 0:
		ord = s.free[len(s.free)-1]
		s.free = s.free[:len(s.free)-1]
	default:
		ord = s.nextOrd
		s.nextOrd++
	}

	s.ords[md.ID] = ord
	s.meta[ord] = md
	addPosting(s.byFile, md.FilePath, ord)
	addPosting(s.byModel, md.ModelName, ord)
	if md.ContentHash != "" {
		addPosting(s.byHash, md.ContentHash, ord)
	}
	if md.ChunkID != "" {
		addPosting(s.byChunk, chunkKey{md.FilePath, md.ChunkID}, ord)
	}
	addPosting(s.byHour, model.HourBucket(md.CreatedAt), ord)
}

func (s *state) remove(id string) bool {
	ord, ok := s.ords[id]
	if !ok {
		return false
	}
	delete(s.ords, id)
	s.unindex(ord)
	s.free = append(s.free, ord)
	return true
}

// unindex drops ord from the metadata and every posting list.
func (s *state) unindex(ord uint32) {
	md := s.meta[ord]
	delete(s.meta, ord)
	removePosting(s.byFile, md.FilePath, ord)
	removePosting(s.byModel, md.ModelName, ord)
	removePosting(s.byHash, md.ContentHash, ord)
	removePosting(s.byChunk, chunkKey{md.FilePath, md.ChunkID}, ord)
	removePosting(s.byHour, model.HourBucket(md.CreatedAt), ord)
}

// projections returns the metadata of every ordinal in bm, ordered by
// CreatedAt then id.
func (s *state) projections(bm *roaring.Bitmap) []model.IndexMetadata {
	if bm == nil {
		return nil
	}
	out := make([]model.IndexMetadata, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, s.meta[it.Next()])
	}
	slices.SortFunc(out, compareCreated)
	return out
}

func compareCreated(a, b model.IndexMetadata) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func ids(mds []model.IndexMetadata) []string {
	out := make([]string, len(mds))
	for i, md := range mds {
		out[i] = md.ID
	}
	return out
}

func (s *state) rangeQuery(start, end time.Time) []model.IndexMetadata {
	if end.Before(start) {
		return nil
	}
	lo, hi := model.HourBucket(start), model.HourBucket(end)

	candidates := roaring.New()
	if hi-lo+1 <= int64(len(s.byHour)) {
		for b := lo; b <= hi; b++ {
			if bm, ok := s.byHour[b]; ok {
				candidates.Or(bm)
			}
		}
	} else {
		for b, bm := range s.byHour {
			if b >= lo && b <= hi {
				candidates.Or(bm)
			}
		}
	}

	var out []model.IndexMetadata
	for _, md := range s.projections(candidates) {
		if !md.CreatedAt.Before(start) && !md.CreatedAt.After(end) {
			out = append(out, md)
		}
	}
	return out
}

func (s *state) memoryBytes() uint64 {
	var n uint64
	for _, m := range []map[string]*roaring.Bitmap{s.byFile, s.byModel, s.byHash} {
		for k, bm := range m {
			n += bm.GetSizeInBytes() + uint64(len(k))
		}
	}
	for k, bm := range s.byChunk {
		n += bm.GetSizeInBytes() + uint64(len(k.file)+len(k.chunk))
	}
	for _, bm := range s.byHour {
		n += bm.GetSizeInBytes() + 8
	}
	for id, ord := range s.ords {
		md := s.meta[ord]
		n += uint64(len(id) + len(md.FilePath) + len(md.ChunkID) + len(md.ModelName) + len(md.ContentHash) + 96)
	}
	return n
}
