package termlog

import "sort"

// segmentSet is the ordered set of §4's "SegmentSet": segments kept sorted
// by startIndex, supporting floor/ceiling lookups. It carries no lock of its
// own — every access happens under the owning TermLog's mu, per the
// acquisition order in §5 (term -> segment -> dirty).
type segmentSet struct {
	segments []*Segment // strictly ascending by startIndex
}

func (s *segmentSet) len() int { return len(s.segments) }

func (s *segmentSet) all() []*Segment { return s.segments }

func (s *segmentSet) first() *Segment {
	if len(s.segments) == 0 {
		return nil
	}
	return s.segments[0]
}

func (s *segmentSet) last() *Segment {
	if len(s.segments) == 0 {
		return nil
	}
	return s.segments[len(s.segments)-1]
}

// floor returns the segment with the greatest startIndex <= index, or nil.
func (s *segmentSet) floor(index int64) *Segment {
	i := sort.Search(len(s.segments), func(i int) bool {
		return s.segments[i].startIndex > index
	})
	if i == 0 {
		return nil
	}
	return s.segments[i-1]
}

// ceiling returns the segment with the least startIndex >= index, or nil.
func (s *segmentSet) ceiling(index int64) *Segment {
	i := sort.Search(len(s.segments), func(i int) bool {
		return s.segments[i].startIndex >= index
	})
	if i == len(s.segments) {
		return nil
	}
	return s.segments[i]
}

// insert adds seg, keeping segments sorted by startIndex. The caller is
// responsible for ensuring segments never overlap.
func (s *segmentSet) insert(seg *Segment) {
	i := sort.Search(len(s.segments), func(i int) bool {
		return s.segments[i].startIndex >= seg.startIndex
	})
	s.segments = append(s.segments, nil)
	copy(s.segments[i+1:], s.segments[i:])
	s.segments[i] = seg
}

// remove drops the segment with the given startIndex, if present.
func (s *segmentSet) remove(startIndex int64) *Segment {
	i := sort.Search(len(s.segments), func(i int) bool {
		return s.segments[i].startIndex >= startIndex
	})
	if i == len(s.segments) || s.segments[i].startIndex != startIndex {
		return nil
	}
	seg := s.segments[i]
	s.segments = append(s.segments[:i], s.segments[i+1:]...)
	return seg
}
