package dispatch

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/session"
)

type fakePersister struct {
	saved, bgSaved, rewritten int
	saveErr, rewriteErr       error
}

func (f *fakePersister) Save() error       { f.saved++; return f.saveErr }
func (f *fakePersister) BGSave() error     { f.bgSaved++; return nil }
func (f *fakePersister) RewriteAOF() error { f.rewritten++; return f.rewriteErr }

func TestSaveWithoutPersisterErrors(t *testing.T) {
	d := newTestDispatcher()
	sess := newTestSession()
	reply := d.Dispatch(sess, req("SAVE"))
	_, isErr := reply.(proto.Error)
	require.True(t, isErr)
}

func TestSaveDelegatesToPersister(t *testing.T) {
	d := newTestDispatcher()
	fp := &fakePersister{}
	d.Persist = fp
	sess := newTestSession()

	require.Equal(t, proto.OK(), d.Dispatch(sess, req("SAVE")))
	require.Equal(t, 1, fp.saved)

	reply := d.Dispatch(sess, req("BGSAVE"))
	require.Equal(t, proto.SimpleString("Background saving started"), reply)
	require.Equal(t, 1, fp.bgSaved)

	reply = d.Dispatch(sess, req("BGREWRITEAOF"))
	require.Equal(t, proto.SimpleString("Background append only file rewriting started"), reply)
	require.Equal(t, 1, fp.rewritten)
}

func TestMonitorReceivesSubsequentCommands(t *testing.T) {
	d := newTestDispatcher()
	var buf bytes.Buffer
	monitor := session.New(99, proto.NewWriter(&buf))
	require.Equal(t, proto.OK(), d.Dispatch(monitor, req("MONITOR")))

	other := newTestSession()
	d.Dispatch(other, req("SET", "k", "v"))

	d.StopMonitor(monitor.ID)

	require.Contains(t, buf.String(), `"SET"`)
	require.Contains(t, buf.String(), `"k"`)
}

func TestClientListIncludesConnectedSessions(t *testing.T) {
	d := newTestDispatcher()
	sess := newTestSession()
	d.Clients.Register(sess)
	defer d.Clients.Unregister(sess.ID)

	reply := d.Dispatch(sess, req("CLIENT", "LIST"))
	bulk, ok := reply.(proto.Bulk)
	require.True(t, ok)
	require.Contains(t, string(bulk.Data), "id=")
}
