package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAlert(t *testing.T, id string, tokenByte byte, createdAt uint64) Alert {
	t.Helper()
	token := testToken(t, tokenByte)
	return Alert{
		ID:           id,
		MatchedToken: token,
		Observation:  Observation{Token: token, FirstSeen: 100, LastSeen: 200, MinDistance: 1.5},
		ReportID:     fmt.Sprintf("report-%d", tokenByte),
		CreatedAt:    createdAt,
	}
}

func TestAlertsSaveAndList(t *testing.T) {
	alerts := NewAlerts(openTestStore(t))

	saved, err := alerts.Save(testAlert(t, "a", 1, 100))
	require.NoError(t, err)
	assert.True(t, saved)
	saved, err = alerts.Save(testAlert(t, "b", 2, 300))
	require.NoError(t, err)
	assert.True(t, saved)
	saved, err = alerts.Save(testAlert(t, "c", 3, 200))
	require.NoError(t, err)
	assert.True(t, saved)

	list, err := alerts.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, "c", list[1].ID)
	assert.Equal(t, "a", list[2].ID)
}

func TestAlertsDeduplicateByReportAndToken(t *testing.T) {
	alerts := NewAlerts(openTestStore(t))

	first := testAlert(t, "a", 1, 100)
	duplicate := testAlert(t, "b", 1, 200) // same report, same token

	saved, err := alerts.Save(first)
	require.NoError(t, err)
	assert.True(t, saved)

	saved, err = alerts.Save(duplicate)
	require.NoError(t, err)
	assert.False(t, saved)

	list, err := alerts.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].ID)
}

func TestAlertsDelete(t *testing.T) {
	alerts := NewAlerts(openTestStore(t))

	_, err := alerts.Save(testAlert(t, "a", 1, 100))
	require.NoError(t, err)

	found, err := alerts.Delete("a")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = alerts.Delete("a")
	require.NoError(t, err)
	assert.False(t, found)

	list, err := alerts.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPurgeSeenOlderThan(t *testing.T) {
	alerts := NewAlerts(openTestStore(t))

	aged := testAlert(t, "a", 1, 100)
	fresh := testAlert(t, "b", 2, 900)
	_, err := alerts.Save(aged)
	require.NoError(t, err)
	_, err = alerts.Save(fresh)
	require.NoError(t, err)
	_, err = alerts.Delete("a")
	require.NoError(t, err)
	_, err = alerts.Delete("b")
	require.NoError(t, err)

	removed, err := alerts.PurgeSeenOlderThan(500)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// The aged marker is gone, so its report would alert again; the fresh
	// marker still suppresses its report.
	saved, err := alerts.Save(aged)
	require.NoError(t, err)
	assert.True(t, saved)
	saved, err = alerts.Save(fresh)
	require.NoError(t, err)
	assert.False(t, saved)
}

func TestDeletedAlertIsNotResurrected(t *testing.T) {
	alerts := NewAlerts(openTestStore(t))

	alert := testAlert(t, "a", 1, 100)
	_, err := alerts.Save(alert)
	require.NoError(t, err)

	_, err = alerts.Delete("a")
	require.NoError(t, err)

	// Reprocessing the same report must not bring the alert back.
	saved, err := alerts.Save(alert)
	require.NoError(t, err)
	assert.False(t, saved)

	list, err := alerts.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}
