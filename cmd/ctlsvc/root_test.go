package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/avvvet/wishcard-services/internal/comm"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	subject string
	sent    comm.ControlMessage
	reply   comm.ControlReply
	err     error
	closed  bool
}

func (f *fakeConn) Request(subj string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	f.subject = subj
	if err := json.Unmarshal(data, &f.sent); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	payload, _ := json.Marshal(f.reply)
	return &nats.Msg{Data: payload}, nil
}

func useFakeConn(t *testing.T, f *fakeConn) {
	t.Helper()
	prev := connect
	connect = func() (requester, func(), error) {
		return f, func() { f.closed = true }, nil
	}
	t.Cleanup(func() { connect = prev })
}

func run(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPauseAndResume(t *testing.T) {
	f := &fakeConn{reply: comm.ControlReply{OK: true, Message: "matching enabled = false"}}
	useFakeConn(t, f)

	out, err := run("pause", "--issuer", "ops")

	require.NoError(t, err)
	assert.Equal(t, comm.SubjectCtlService, f.subject)
	assert.Equal(t, comm.TypeSetMatching, f.sent.Type)
	require.NotNil(t, f.sent.Enabled)
	assert.False(t, *f.sent.Enabled)
	assert.Equal(t, "ops", f.sent.Issuer)
	assert.Contains(t, out, "ok: matching enabled = false")
	assert.True(t, f.closed)

	_, err = run("resume")
	require.NoError(t, err)
	require.NotNil(t, f.sent.Enabled)
	assert.True(t, *f.sent.Enabled)
}

func TestReloadDictAndFlush(t *testing.T) {
	f := &fakeConn{reply: comm.ControlReply{OK: true, Message: "done"}}
	useFakeConn(t, f)

	_, err := run("reload-dict")
	require.NoError(t, err)
	assert.Equal(t, comm.TypeReloadDict, f.sent.Type)
	assert.Nil(t, f.sent.Enabled)

	_, err = run("flush")
	require.NoError(t, err)
	assert.Equal(t, comm.TypeFlush, f.sent.Type)
}

func TestRejectedCommandFails(t *testing.T) {
	f := &fakeConn{reply: comm.ControlReply{Message: "open data/sensitive_words.txt: no such file or directory"}}
	useFakeConn(t, f)

	_, err := run("reload-dict")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "reload-dict rejected")
}

func TestRequestErrorFails(t *testing.T) {
	f := &fakeConn{err: nats.ErrNoResponders}
	useFakeConn(t, f)

	_, err := run("flush")

	require.Error(t, err)
	assert.True(t, errors.Is(err, nats.ErrNoResponders))
}

func TestCommandsTakeNoArgs(t *testing.T) {
	useFakeConn(t, &fakeConn{})

	_, err := run("pause", "now")

	assert.Error(t, err)
}
