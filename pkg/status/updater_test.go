package status

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/morezero/guest-agent/pkg/db"
)

const updaterTestPrefix = "status:updater_test"

type fakeConn struct {
	calls     []string
	opens     int
	closes    int
	openErr   error
	execErr   error
	upsertErr error
	rows      []*db.GuestStatus
}

func (c *fakeConn) Close(context.Context) error {
	c.closes++
	c.calls = append(c.calls, "close")
	return nil
}

func (c *fakeConn) Open(context.Context) error {
	c.opens++
	c.calls = append(c.calls, "open")
	return c.openErr
}

func (c *fakeConn) EscapeIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) error {
	c.calls = append(c.calls, "exec:"+sql)
	return c.execErr
}

func (c *fakeConn) UpsertStatus(_ context.Context, row *db.GuestStatus) error {
	c.calls = append(c.calls, "upsert:"+row.HostID)
	if c.upsertErr != nil {
		return c.upsertErr
	}
	c.rows = append(c.rows, row)
	return nil
}

type fakeProbe struct {
	rec *Record
	err error
}

func (p *fakeProbe) Compute(context.Context) (*Record, error) {
	return p.rec, p.err
}

type recordingRefreshObserver struct {
	recs []*Record
	errs []error
}

func (o *recordingRefreshObserver) ObserveRefresh(rec *Record, err error) {
	o.recs = append(o.recs, rec)
	o.errs = append(o.errs, err)
}

func newTestUpdater(conn *fakeConn, probe *fakeProbe, built *int, obs RefreshObserver) *Updater {
	return NewUpdater(UpdaterParams{
		Conn:   conn,
		Schema: "nova",
		NewProbe: func() Probe {
			*built++
			return probe
		},
		Observer: obs,
	})
}

func testRecord() *Record {
	return &Record{
		HostID:           "guest-1",
		Address:          "10.0.0.5",
		State:            StateRunning,
		StateDescription: "running",
		ObservedAt:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRefresh_Sequence(t *testing.T) {
	conn := &fakeConn{}
	built := 0
	u := newTestUpdater(conn, &fakeProbe{rec: testRecord()}, &built, nil)

	if err := u.Refresh(context.Background()); err != nil {
		t.Fatalf("%s - Refresh: %v", updaterTestPrefix, err)
	}

	want := []string{"close", "open", `exec:SET search_path TO "nova"`, "upsert:guest-1"}
	if strings.Join(conn.calls, "|") != strings.Join(want, "|") {
		t.Errorf("%s - calls = %v, want %v", updaterTestPrefix, conn.calls, want)
	}
	if built != 1 {
		t.Errorf("%s - probes built = %d, want 1", updaterTestPrefix, built)
	}
	row := conn.rows[0]
	if row.State != 1 || row.Address != "10.0.0.5" || row.StateDescription != "running" {
		t.Errorf("%s - row = %+v", updaterTestPrefix, row)
	}
}

func TestRefresh_FreshConnectionAndProbeEachTime(t *testing.T) {
	conn := &fakeConn{}
	built := 0
	u := newTestUpdater(conn, &fakeProbe{rec: testRecord()}, &built, nil)

	for i := 0; i < 3; i++ {
		if err := u.Refresh(context.Background()); err != nil {
			t.Fatalf("%s - Refresh #%d: %v", updaterTestPrefix, i, err)
		}
	}
	if conn.opens != 3 || conn.closes != 3 {
		t.Errorf("%s - opens=%d closes=%d, want 3/3", updaterTestPrefix, conn.opens, conn.closes)
	}
	if built != 3 {
		t.Errorf("%s - probes built = %d, want 3", updaterTestPrefix, built)
	}
	if len(conn.rows) != 3 {
		t.Errorf("%s - upserts = %d, want 3", updaterTestPrefix, len(conn.rows))
	}
}

func TestRefresh_EscapesSchema(t *testing.T) {
	conn := &fakeConn{}
	built := 0
	u := NewUpdater(UpdaterParams{
		Conn:     conn,
		Schema:   `odd"schema`,
		NewProbe: func() Probe { built++; return &fakeProbe{rec: testRecord()} },
	})
	if err := u.Refresh(context.Background()); err != nil {
		t.Fatalf("%s - Refresh: %v", updaterTestPrefix, err)
	}
	if conn.calls[2] != `exec:SET search_path TO "odd""schema"` {
		t.Errorf("%s - schema statement = %q", updaterTestPrefix, conn.calls[2])
	}
}

func TestRefresh_Errors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name        string
		conn        *fakeConn
		probe       *fakeProbe
		wantBuilt   int
		wantUpserts int
	}{
		{"open fails", &fakeConn{openErr: boom}, &fakeProbe{rec: testRecord()}, 0, 0},
		{"schema fails", &fakeConn{execErr: boom}, &fakeProbe{rec: testRecord()}, 0, 0},
		{"compute fails", &fakeConn{}, &fakeProbe{err: boom}, 1, 0},
		{"upsert fails", &fakeConn{upsertErr: boom}, &fakeProbe{rec: testRecord()}, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			built := 0
			obs := &recordingRefreshObserver{}
			u := newTestUpdater(tt.conn, tt.probe, &built, obs)

			err := u.Refresh(context.Background())
			if !errors.Is(err, boom) {
				t.Fatalf("%s - err = %v, want wrapped boom", updaterTestPrefix, err)
			}
			if built != tt.wantBuilt {
				t.Errorf("%s - probes built = %d, want %d", updaterTestPrefix, built, tt.wantBuilt)
			}
			if len(tt.conn.rows) != tt.wantUpserts {
				t.Errorf("%s - upserts = %d, want %d", updaterTestPrefix, len(tt.conn.rows), tt.wantUpserts)
			}
			if len(obs.errs) != 1 || !errors.Is(obs.errs[0], boom) {
				t.Errorf("%s - observer errs = %v", updaterTestPrefix, obs.errs)
			}
		})
	}
}

func TestRefresh_ObserverSeesRecord(t *testing.T) {
	obs := &recordingRefreshObserver{}
	built := 0
	u := newTestUpdater(&fakeConn{}, &fakeProbe{rec: testRecord()}, &built, obs)

	if err := u.Refresh(context.Background()); err != nil {
		t.Fatalf("%s - Refresh: %v", updaterTestPrefix, err)
	}
	if len(obs.recs) != 1 || obs.recs[0] == nil || obs.recs[0].HostID != "guest-1" || obs.errs[0] != nil {
		t.Errorf("%s - observer saw recs=%v errs=%v", updaterTestPrefix, obs.recs, obs.errs)
	}
}

func TestRefresh_NoFactory(t *testing.T) {
	u := NewUpdater(UpdaterParams{Conn: &fakeConn{}, Schema: "public"})
	if err := u.Refresh(context.Background()); err == nil {
		t.Fatalf("%s - expected error without a probe factory", updaterTestPrefix)
	}
}
