package db

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"jobboard/internal/types"
)

func TestReportRepository_StreamReport(t *testing.T) {
	db := new(mockDBTX)
	repo := NewReportRepository(db)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	window := types.ReportWindow{From: &from}

	rows := newJSONRows(`{"assessment_id":"a1","score":75}`, `{"assessment_id":"a2","score":100}`)
	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "FROM assessment_results")
	}), []any{window.From, window.To}).Return(rows, nil)

	var got []string
	n, err := repo.StreamReport(context.Background(), "assessment_results", window, func(row json.RawMessage) error {
		got = append(got, string(row))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{`{"assessment_id":"a1","score":75}`, `{"assessment_id":"a2","score":100}`}, got)
	assert.True(t, rows.closed)
}

func TestReportRepository_KnownReportTypes(t *testing.T) {
	for _, reportType := range []string{"assessment_results", "notifications", "applications"} {
		_, ok := reportQueries[reportType]
		assert.True(t, ok, reportType)
	}
}

func TestReportRepository_Errors(t *testing.T) {
	repo := NewReportRepository(new(mockDBTX))
	_, err := repo.StreamReport(context.Background(), "salaries", types.ReportWindow{}, nil)
	assert.Equal(t, types.ErrCodeJobInvalidPayload, types.CodeOf(err))

	db := new(mockDBTX)
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("relation does not exist"))
	_, err = NewReportRepository(db).StreamReport(context.Background(), "applications", types.ReportWindow{}, nil)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))

	boom := errors.New("disk full")
	db = new(mockDBTX)
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(newJSONRows(`{}`, `{}`), nil)
	n, err := NewReportRepository(db).StreamReport(context.Background(), "notifications", types.ReportWindow{},
		func(json.RawMessage) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, n)

	db = new(mockDBTX)
	rows := newJSONRows(`{}`)
	rows.errVal = errors.New("conn lost")
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(rows, nil)
	_, err = NewReportRepository(db).StreamReport(context.Background(), "notifications", types.ReportWindow{},
		func(json.RawMessage) error { return nil })
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestLogStore(t *testing.T) {
	s := NewLogStore(discardLogger())
	require.NoError(t, s.SaveAssessmentResult(context.Background(), types.AssessmentResult{AssessmentID: "x"}))
	inserted, err := s.DispatchNotification(context.Background(), types.Notification{ID: "n1"})
	require.NoError(t, err)
	assert.True(t, inserted)
	n, err := s.StreamReport(context.Background(), "notifications", types.ReportWindow{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
