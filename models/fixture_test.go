package models_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/models"
	"github.com/shopspring/decimal"
)

var dbSeq atomic.Int64

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// setupDB points config at a fresh in-memory sqlite database for one test.
func setupDB(t *testing.T) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	conn, err := config.ConnectSQLite(dsn)
	if err != nil {
		t.Fatalf("ConnectSQLite: %v", err)
	}
	prev := config.GetDB()
	config.SetDB(conn)
	t.Cleanup(func() {
		config.SetDB(prev)
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := models.MigrateTable(); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}

	prevPolicy := config.GetPolicy()
	config.SetPolicy(config.DefaultContractPolicy())
	t.Cleanup(func() { config.SetPolicy(prevPolicy) })
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	now    time.Time
	client models.User
	doer   models.User
	job    models.Job
}

// newFixture seeds a client with 100,000 on balance, a doer and an open job
// starting ten days after baseTime.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	setupDB(t)
	f := &fixture{t: t, ctx: context.Background(), now: baseTime}
	t.Cleanup(models.SetClock(func() time.Time { return f.now }))

	f.client = f.seedUser(models.User{Name: "Client", Balance: decimal.NewFromInt(100000)})
	f.doer = f.seedUser(models.User{Name: "Doer"})
	f.job = f.seedJob(models.Job{
		ClientID:   f.client.ID,
		Title:      "Paint the fence",
		Price:      decimal.NewFromInt(10000),
		StartDate:  baseTime.Add(10 * 24 * time.Hour),
		EndDate:    baseTime.Add(12 * 24 * time.Hour),
		Status:     models.JobStatusOpen,
		MaxWorkers: 1,
	})
	return f
}

func (f *fixture) seedUser(u models.User) models.User {
	f.t.Helper()
	if err := config.GetDB().Create(&u).Error; err != nil {
		f.t.Fatalf("seed user: %v", err)
	}
	return u
}

func (f *fixture) seedJob(j models.Job) models.Job {
	f.t.Helper()
	if err := config.GetDB().Create(&j).Error; err != nil {
		f.t.Fatalf("seed job: %v", err)
	}
	return j
}

func (f *fixture) setNow(ts time.Time) {
	f.now = ts
}

func (f *fixture) user(id int) models.User {
	f.t.Helper()
	u, err := models.GetUser(f.ctx, id)
	if err != nil {
		f.t.Fatalf("GetUser(%d): %v", id, err)
	}
	return *u
}

func (f *fixture) contract(id int) models.Contract {
	f.t.Helper()
	c, err := models.GetContract(f.ctx, id, f.client.ID)
	if err != nil {
		f.t.Fatalf("GetContract(%d): %v", id, err)
	}
	return *c
}

func (f *fixture) jobRow() models.Job {
	f.t.Helper()
	j, err := models.GetJob(f.ctx, f.job.ID)
	if err != nil {
		f.t.Fatalf("GetJob: %v", err)
	}
	return *j
}

func (f *fixture) create() *models.Contract {
	f.t.Helper()
	c, err := models.CreateContract(f.ctx, f.client.ID, models.NewContract{JobID: f.job.ID, DoerID: f.doer.ID})
	if err != nil {
		f.t.Fatalf("CreateContract: %v", err)
	}
	return c
}

func (f *fixture) accepted() *models.Contract {
	f.t.Helper()
	c := f.create()
	if _, err := models.AcceptContract(f.ctx, c.ID, f.client.ID); err != nil {
		f.t.Fatalf("client accept: %v", err)
	}
	c, err := models.AcceptContract(f.ctx, c.ID, f.doer.ID)
	if err != nil {
		f.t.Fatalf("doer accept: %v", err)
	}
	return c
}

// started moves the clock into the pairing window and confirms the code from both sides.
func (f *fixture) started(c *models.Contract) *models.Contract {
	f.t.Helper()
	f.setNow(c.StartDate.Add(-2 * time.Hour))
	_, code, err := models.GeneratePairingCode(f.ctx, c.ID, f.client.ID)
	if err != nil {
		f.t.Fatalf("GeneratePairingCode: %v", err)
	}
	if _, err := models.ConfirmPairing(f.ctx, c.ID, f.client.ID, code); err != nil {
		f.t.Fatalf("client pairing: %v", err)
	}
	c, err = models.ConfirmPairing(f.ctx, c.ID, f.doer.ID, code)
	if err != nil {
		f.t.Fatalf("doer pairing: %v", err)
	}
	return c
}

func (f *fixture) fund(c *models.Contract) *models.Payment {
	f.t.Helper()
	p, err := models.FundEscrowFromBalance(f.ctx, c.ID, f.client.ID)
	if err != nil {
		f.t.Fatalf("FundEscrowFromBalance: %v", err)
	}
	return p
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func wantAmount(t *testing.T, label string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Fatalf("%s: expected %s, got %s", label, want.String(), got.String())
	}
}
