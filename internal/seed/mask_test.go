package seed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const annotatedSample = `SET binlog_format=[CONSTANT, number:1, type:enum_binlog_format, ori:STATEMENT];
CREATE TABLE t1 ( Period smallint(4) unsigned zerofill DEFAULT [CONSTANT, number:2, type:char, ori:0000] NOT NULL ) ENGINE=[CONSTANT, number:3, type:enum_storage_engine, ori:archive];
INSERT INTO t1 VALUES ([CONSTANT, number:4, type:smallint(4), ori:9410]);`

func TestParseMasks(t *testing.T) {
	tokens := ParseMasks(annotatedSample)
	require.Len(t, tokens, 4)

	assert.Equal(t, MaskConstant, tokens[0].Kind)
	assert.Equal(t, 1, tokens[0].Number)
	assert.Equal(t, "type", tokens[0].Tag)
	assert.Equal(t, "enum_binlog_format", tokens[0].Value)
	assert.Equal(t, "STATEMENT", tokens[0].Ori)

	assert.Equal(t, "smallint(4)", tokens[3].Value)
	assert.Equal(t, "9410", tokens[3].Ori)
}

func TestParseMasks_AllKinds(t *testing.T) {
	annotated := `SELECT a [OPERATOR, number:1, category:comparison, ori:=] 1 FROM t ` +
		`WHERE [FUNCTION, number:2, category:aggregate, ori:COUNT](x) > 0 ` +
		`ORDER BY x [KEYWORD, number:3, context:sort_direction, ori:ASC];`
	tokens := ParseMasks(annotated)
	require.Len(t, tokens, 3)
	assert.Equal(t, MaskOperator, tokens[0].Kind)
	assert.Equal(t, MaskFunction, tokens[1].Kind)
	assert.Equal(t, MaskKeyword, tokens[2].Kind)
	assert.Equal(t, "context", tokens[2].Tag)
	assert.Equal(t, "ASC", tokens[2].Ori)
}

func TestParseMasks_OmittedNumber(t *testing.T) {
	tokens := ParseMasks(`ENGINE=[CONSTANT, type:enum_storage_engine, ori:archive];`)
	require.Len(t, tokens, 1)
	assert.Equal(t, 0, tokens[0].Number)
	assert.Equal(t, "archive", tokens[0].Ori)
}

func TestResolveOriginals(t *testing.T) {
	resolved := ResolveOriginals(annotatedSample)
	assert.Equal(t, `SET binlog_format=STATEMENT;
CREATE TABLE t1 ( Period smallint(4) unsigned zerofill DEFAULT 0000 NOT NULL ) ENGINE=archive;
INSERT INTO t1 VALUES (9410);`, resolved)
	assert.False(t, HasMaskTokens(resolved))
}

func TestResolveOriginals_NoMasks(t *testing.T) {
	sql := "SELECT 1;"
	assert.Equal(t, sql, ResolveOriginals(sql))

	assert.Equal(t, "", ResolveOriginals(""))
}

func TestHasMaskTokens(t *testing.T) {
	assert.True(t, HasMaskTokens(annotatedSample))
	assert.False(t, HasMaskTokens("SELECT 1;"))
	// Bracketed text that is not a mask annotation.
	assert.False(t, HasMaskTokens("SELECT [col] FROM t;"))
}

func TestValidateNumbers(t *testing.T) {
	t.Run("should accept unique non-contiguous numbers", func(t *testing.T) {
		tokens := []MaskToken{{Number: 1}, {Number: 3}, {Number: 7}}
		assert.NoError(t, ValidateNumbers(tokens))
	})

	t.Run("should reject duplicates", func(t *testing.T) {
		tokens := []MaskToken{{Number: 1}, {Number: 1}}
		assert.Error(t, ValidateNumbers(tokens))
	})

	t.Run("should ignore omitted numbers", func(t *testing.T) {
		tokens := []MaskToken{{Number: 0}, {Number: 0}, {Number: 2}}
		assert.NoError(t, ValidateNumbers(tokens))
	})
}
