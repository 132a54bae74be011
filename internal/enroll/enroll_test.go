package enroll

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attendance/facepresence/internal/config"
	"github.com/attendance/facepresence/internal/models"
)

func TestBBoxArea(t *testing.T) {
	cases := []struct {
		name string
		box  models.BBox
		want float64
	}{
		{"normal box", models.BBox{10, 10, 110, 60}, 100 * 50},
		{"zero width", models.BBox{10, 10, 10, 60}, 0},
		{"inverted coords", models.BBox{110, 60, 10, 10}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, bboxArea(tc.box))
		})
	}
}

func TestEnrollRejectsNilPerson(t *testing.T) {
	c := New(nil, nil, nil, nil, config.RecognitionConfig{})
	_, err := c.Enroll(context.Background(), nil, nil)
	require.ErrorIs(t, err, ErrPersonNotFound)
}
