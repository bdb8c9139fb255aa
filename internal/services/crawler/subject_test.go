package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectFromLocator(t *testing.T) {
	tests := []struct {
		locator string
		want    string
	}{
		{"https://ocw.mit.edu/search/?d=Electrical%20Engineering%20and%20Computer%20Science", "Computer Science"},
		{"https://ocw.mit.edu/search/?d=Mathematics", "Mathematics"},
		{"https://ocw.mit.edu/search/?t=Computer%20Science", "Computer Science"},
		{"https://ocw.mit.edu/search/?d=Physics", "Physics"},
		{"https://ocw.mit.edu/search/?d=Chemical%20and%20Biological%20Engineering", "Chemical"},
		{"https://ocw.mit.edu/search/?t=Energy", "Energy"},
		{"https://ocw.mit.edu/search/?q=python", "Search_python"},
		{"https://ocw.mit.edu/search/?q=machine%20learning", "Search_machine_learning"},
		{"https://ocw.mit.edu/search/?q=" + "abcdefghijklmnopqrstuvwxyz0123456789", "Search_abcdefghijklmnopqrstuvwxyz0123"},
		{"https://ocw.mit.edu/courses/", "General"},
		{"::not a url", "General"},
	}

	for _, tt := range tests {
		t.Run(tt.locator, func(t *testing.T) {
			assert.Equal(t, tt.want, SubjectFromLocator(tt.locator))
		})
	}
}
