package bttf

import (
	"reflect"
	"testing"
)

func TestLagSupportBoundaries(t *testing.T) {
	lags := []int{1, 3}
	const length = 10

	tests := []struct {
		t        int
		future   []int
		identity bool
	}{
		// Below max lag only the far lag reaches a row with a full window.
		{t: 0, future: []int{1}, identity: true},
		{t: 2, future: []int{0, 1}, identity: true},
		// Exactly at max lag the identity fallback switches off.
		{t: 3, future: []int{0, 1}, identity: false},
		{t: 6, future: []int{0, 1}, identity: false},
		// Near the end the far lag leaves the range first.
		{t: 7, future: []int{0}, identity: false},
		{t: 8, future: []int{0}, identity: false},
		// From length-minLag on, no later row depends on t.
		{t: length - 1, future: nil, identity: false},
	}
	for _, tc := range tests {
		future, identity := lagSupport(tc.t, length, lags)
		if !reflect.DeepEqual(future, tc.future) {
			t.Errorf("lagSupport(%d): future = %v, want %v", tc.t, future, tc.future)
		}
		if identity != tc.identity {
			t.Errorf("lagSupport(%d): identity = %v, want %v", tc.t, identity, tc.identity)
		}
	}
}

func TestLagSupportSingleLag(t *testing.T) {
	lags := []int{2}
	const length = 6

	tests := []struct {
		t        int
		future   []int
		identity bool
	}{
		{t: 0, future: []int{0}, identity: true},
		{t: 1, future: []int{0}, identity: true},
		{t: 2, future: []int{0}, identity: false},
		{t: 3, future: []int{0}, identity: false},
		{t: 4, future: nil, identity: false},
		{t: 5, future: nil, identity: false},
	}
	for _, tc := range tests {
		future, identity := lagSupport(tc.t, length, lags)
		if !reflect.DeepEqual(future, tc.future) {
			t.Errorf("lagSupport(%d): future = %v, want %v", tc.t, future, tc.future)
		}
		if identity != tc.identity {
			t.Errorf("lagSupport(%d): identity = %v, want %v", tc.t, identity, tc.identity)
		}
	}
}
