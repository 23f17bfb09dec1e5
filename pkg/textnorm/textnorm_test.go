package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Bogotá", "bogota"},
		{"  MEDELLÍN  ", "medellin"},
		{"Blanqueamiento   Dental", "blanqueamiento dental"},
		{"Ortodoncia\tInvisible", "ortodoncia invisible"},
		{"São Paulo", "sao paulo"},
		{"ESTUDIANTE", "estudiante"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Fold(tt.in), "Fold(%q)", tt.in)
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("Cundinamarca", "cundinamarcá"))
	assert.False(t, Equal("Cali", "Bogotá"))
}

func TestContains(t *testing.T) {
	assert.True(t, Contains("Limpieza dental profunda", "LIMPIEZA"))
	assert.True(t, Contains("Paciente", "pacient"))
	assert.False(t, Contains("anything", ""))
	assert.False(t, Contains("", "x"))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Bogota Dc", Title("BOGOTÁ  dc"))
}
