package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roster() Dataset {
	return Dataset{
		Title:   "Roster: Algebra I",
		Headers: []string{"Student", "Email", "Enrolled At"},
		Rows: [][]string{
			{"Ana", "ana@example.com", "2024-09-01"},
			{"Bao", "bao@example.com", "2024-09-02"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(roster())
	require.NoError(t, err)
	assert.Equal(t, "Student,Email,Enrolled At\nAna,ana@example.com,2024-09-01\nBao,bao@example.com,2024-09-02\n", string(out))
}

func TestCSVExporterRejectsRaggedRows(t *testing.T) {
	data := roster()
	data.Rows = append(data.Rows, []string{"only-one"})
	_, err := NewCSVExporter().Render(data)
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(roster())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestExportersRequireHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
	_, err = NewPDFExporter().Render(Dataset{})
	assert.Error(t, err)
}
