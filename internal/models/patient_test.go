package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatientQuery_NormalizeReturnsCopy(t *testing.T) {
	original := PatientQuery{
		SubscriberID: " 825978894 ",
		FirstName:    "  sophie ",
		LastName:     "robinson",
		DateOfBirth:  "09/27/2016",
	}

	normalized, err := original.Normalize()
	require.NoError(t, err)

	assert.Equal(t, "825978894", normalized.SubscriberID)
	assert.Equal(t, "SOPHIE", normalized.FirstName)
	assert.Equal(t, "ROBINSON", normalized.LastName)
	assert.Equal(t, "2016-09-27", normalized.DateOfBirth)

	assert.Equal(t, "  sophie ", original.FirstName, "caller's query must not change")
	assert.Equal(t, "09/27/2016", original.DateOfBirth)
}

func TestPatientQuery_NormalizeDateLayouts(t *testing.T) {
	for _, dob := range []string{"2016-09-27", "09/27/2016", "9/27/2016", "09-27-2016", "20160927"} {
		t.Run(dob, func(t *testing.T) {
			q, err := PatientQuery{SubscriberID: "1", FirstName: "a", LastName: "b", DateOfBirth: dob}.Normalize()
			require.NoError(t, err)
			assert.Equal(t, "2016-09-27", q.DateOfBirth)
		})
	}
}

func TestPatientQuery_NormalizeRejectsIncomplete(t *testing.T) {
	_, err := PatientQuery{FirstName: "a", LastName: "b", DateOfBirth: "2016-09-27"}.Normalize()
	assert.Error(t, err)

	_, err = PatientQuery{SubscriberID: "1", FirstName: "a", LastName: "b", DateOfBirth: "last tuesday"}.Normalize()
	assert.Error(t, err)
}

func TestPatientQuery_NormalizeRejectsTwoDigitYear(t *testing.T) {
	for _, dob := range []string{"3/4/55", "03/04/55", "09/27/16"} {
		t.Run(dob, func(t *testing.T) {
			_, err := PatientQuery{SubscriberID: "1", FirstName: "a", LastName: "b", DateOfBirth: dob}.Normalize()
			assert.ErrorContains(t, err, "four-digit year")
		})
	}

	// portal-rendered dates still accept the short form
	parsed, ok := ParseDate("09/27/16")
	require.True(t, ok)
	assert.Equal(t, 2016, parsed.Year())
}

func TestPatientQuery_DOBAs(t *testing.T) {
	q := PatientQuery{DateOfBirth: "2016-09-27"}
	assert.Equal(t, "09/27/2016", q.DOBAs("01/02/2006"))
	assert.Equal(t, "SOPHIE ROBINSON", PatientQuery{FirstName: "SOPHIE", LastName: "ROBINSON"}.FullName())
}
