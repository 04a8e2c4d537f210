package records

import "sort"

// Selection tracks which positions of the current derived view are marked
// for bulk action. Positions are only meaningful for the view they were
// made against, so the owning Store resets the selection whenever the view
// is recomputed.
type Selection struct {
	size     int
	selected map[int]struct{}
}

// NewSelection returns an empty selection over a view of size rows.
func NewSelection(size int) *Selection {
	return &Selection{size: size, selected: make(map[int]struct{})}
}

// Reset clears the selection and rebinds it to a view of size rows.
func (s *Selection) Reset(size int) {
	s.size = size
	clear(s.selected)
}

// Toggle flips pos. Positions outside the view are ignored.
func (s *Selection) Toggle(pos int) {
	if pos < 0 || pos >= s.size {
		return
	}
	if _, ok := s.selected[pos]; ok {
		delete(s.selected, pos)
		return
	}
	s.selected[pos] = struct{}{}
}

// ToggleAll selects every row unless all are already selected, in which
// case it clears the selection.
func (s *Selection) ToggleAll() {
	if s.AllSelected() {
		clear(s.selected)
		return
	}
	for i := 0; i < s.size; i++ {
		s.selected[i] = struct{}{}
	}
}

// AllSelected reports whether every row of a non-empty view is selected.
func (s *Selection) AllSelected() bool {
	return s.size > 0 && len(s.selected) == s.size
}

// Contains reports whether pos is selected.
func (s *Selection) Contains(pos int) bool {
	_, ok := s.selected[pos]
	return ok
}

// Count returns the number of selected rows.
func (s *Selection) Count() int {
	return len(s.selected)
}

// Current returns the selected positions in ascending order.
func (s *Selection) Current() []int {
	out := make([]int, 0, len(s.selected))
	for pos := range s.selected {
		out = append(out, pos)
	}
	sort.Ints(out)
	return out
}
