package utils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateToolID(t *testing.T) {
	assert.NoError(t, ValidateToolID("shell.execute"))
	assert.NoError(t, ValidateToolID("shell.create_session"))
	assert.Error(t, ValidateToolID(""))
	assert.Error(t, ValidateToolID("shell exec"))
	assert.Error(t, ValidateToolID("shell;rm"))
	assert.Error(t, ValidateToolID(strings.Repeat("a", MaxToolIDLength+1)))
}

func TestValidateCommand(t *testing.T) {
	assert.NoError(t, ValidateCommand("echo hi"))
	assert.NoError(t, ValidateCommand("for i in 1 2 3; do echo $i; done"))
	assert.Error(t, ValidateCommand(""))
	assert.Error(t, ValidateCommand(strings.Repeat("x", MaxCommandSize+1)))
	assert.Error(t, ValidateCommand("echo \xff\xfe"))
}

func TestValidateVarName(t *testing.T) {
	assert.NoError(t, ValidateVarName("PATH"))
	assert.NoError(t, ValidateVarName("_private"))
	assert.NoError(t, ValidateVarName("VAR_2"))
	assert.Error(t, ValidateVarName(""))
	assert.Error(t, ValidateVarName("2BAD"))
	assert.Error(t, ValidateVarName("HAS-DASH"))
	assert.Error(t, ValidateVarName("HAS=EQ"))
}

func TestValidateEnv(t *testing.T) {
	assert.NoError(t, ValidateEnv(map[string]string{"A": "1", "B": "2"}))
	assert.NoError(t, ValidateEnv(nil))
	assert.Error(t, ValidateEnv(map[string]string{"bad name": "x"}))

	big := make(map[string]string, MaxEnvCount+1)
	for i := 0; i <= MaxEnvCount; i++ {
		big[fmt.Sprintf("V%d", i)] = "v"
	}
	assert.Error(t, ValidateEnv(big))
}
