package main

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimelordUK/logdata/internal/config"
	mlessio "github.com/TimelordUK/logdata/internal/io"
	"github.com/TimelordUK/logdata/internal/source"
)

var preadOptions = source.Options{Access: mlessio.AccessPread}

func newPrinter(buf *bytes.Buffer, pred source.Predicate) *printer {
	return &printer{
		out:    bufio.NewWriter(buf),
		pred:   pred,
		logger: hclog.NewNullLogger(),
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestPrinterFollowsAppendedLines(t *testing.T) {
	tests := []struct {
		name  string
		pred  source.Predicate
		first string
		later string
	}{
		{
			name:  "all lines",
			first: "ok 1\nerr 1\n",
			later: "ok 2\nerr 2\n",
		},
		{
			name: "filtered",
			pred: func(_ int, text string) bool {
				return strings.HasPrefix(text, "err")
			},
			first: "err 1\n",
			later: "err 2\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "app.log")
			require.NoError(t, os.WriteFile(path, []byte("ok 1\nerr 1\n"), 0644))

			v, err := source.OpenFile(ctx, path, preadOptions)
			require.NoError(t, err)

			var buf bytes.Buffer
			p := newPrinter(&buf, tt.pred)
			defer p.close()
			require.NoError(t, p.load(ctx, v))
			require.NoError(t, p.print(0, p.data.LineCount()))
			assert.Equal(t, tt.first, buf.String())

			appendFile(t, path, "ok 2\nerr 2\nerr 3 partial")
			next, err := source.ExtendFile(ctx, v, preadOptions)
			require.NoError(t, err)
			require.NoError(t, p.extend(ctx, next))
			require.NoError(t, p.printNew())

			assert.Equal(t, tt.first+tt.later, buf.String())
		})
	}
}

func TestPrinterNumbersLines(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\n"), 0644))

	v, err := source.OpenFile(ctx, path, preadOptions)
	require.NoError(t, err)

	var buf bytes.Buffer
	p := newPrinter(&buf, nil)
	p.numbers = true
	defer p.close()
	require.NoError(t, p.load(ctx, v))
	require.NoError(t, p.print(1, 3))

	assert.Equal(t, "     2  b\n     3  c\n", buf.String())
}

func TestBuildPredicate(t *testing.T) {
	cfg := config.DefaultConfig()

	pred, err := buildPredicate(cfg, options{})
	require.NoError(t, err)
	assert.Nil(t, pred)

	pred, err = buildPredicate(cfg, options{grep: "db", level: "warn"})
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.True(t, pred(0, "[ERR] db down"))
	assert.False(t, pred(0, "[INF] db up"))
	assert.False(t, pred(0, "[ERR] cache down"))
}

func TestBuildPredicateRejectsUnknownLevel(t *testing.T) {
	_, err := buildPredicate(config.DefaultConfig(), options{level: "bogus"})
	assert.ErrorContains(t, err, "bogus")
}
