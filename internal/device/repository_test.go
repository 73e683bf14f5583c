package device

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE TABLE rooms (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);
		CREATE TABLE connectors (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			integration_id TEXT,
			name TEXT NOT NULL,
			transport TEXT NOT NULL,
			host TEXT NOT NULL DEFAULT '',
			port INTEGER NOT NULL DEFAULT 0,
			username TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL DEFAULT '',
			use_tls INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			name TEXT NOT NULL,
			signal_type TEXT NOT NULL,
			unit TEXT NOT NULL DEFAULT '',
			value REAL,
			raw_value TEXT NOT NULL DEFAULT '',
			is_on INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (room_id, name),
			FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
		);
		CREATE TABLE endpoints (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			connector_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			address TEXT NOT NULL,
			scale REAL NOT NULL DEFAULT 1,
			offset_value REAL NOT NULL DEFAULT 0,
			true_value TEXT NOT NULL DEFAULT '1',
			false_value TEXT NOT NULL DEFAULT '0',
			is_primary INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE,
			FOREIGN KEY (connector_id) REFERENCES connectors(id) ON DELETE CASCADE
		);

		INSERT INTO users (id, username, email, password_hash, created_at, updated_at)
			VALUES ('user-1', 'alice', 'alice@example.com', 'x', '2026-01-01', '2026-01-01');
		INSERT INTO rooms (id, user_id, name, created_at, updated_at)
			VALUES ('room-1', 'user-1', 'Plant Room', '2026-01-01', '2026-01-01');
		INSERT INTO connectors (id, user_id, name, transport, created_at, updated_at)
			VALUES ('conn-1', 'user-1', 'Broker', 'mqtt', '2026-01-01', '2026-01-01');
	`
	if _, execErr := db.Exec(schema); execErr != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", execErr)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func createTestDevice(t *testing.T, repo *SQLiteRepository, id string, st SignalType) *Device {
	t.Helper()

	d := &Device{
		ID:         id,
		RoomID:     "room-1",
		Name:       "Device " + id,
		SignalType: st,
		CreatedAt:  time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), d); err != nil {
		t.Fatalf("create device: %v", err)
	}
	return d
}

func TestUpdateStateAppliesWholeReading(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	createTestDevice(t, repo, "dev-1", SignalAnalogInput)

	v := 21.5
	now := time.Now().UTC().Truncate(time.Second)
	d, err := repo.UpdateState(ctx, "dev-1", StateUpdate{
		Value:     &v,
		Raw:       "215",
		Unit:      "degC",
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("update state: %v", err)
	}

	if d.Value == nil || *d.Value != 21.5 {
		t.Errorf("value = %v, want 21.5", d.Value)
	}
	if d.RawValue != "215" {
		t.Errorf("raw_value = %q, want 215", d.RawValue)
	}
	if d.Unit != "degC" {
		t.Errorf("unit = %q, want degC", d.Unit)
	}
	if d.UpdatedAt == nil {
		t.Error("updated_at is nil after a reading")
	}
}

func TestUpdateStatePinsFirstUnit(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	createTestDevice(t, repo, "dev-1", SignalAnalogInput)

	v1 := 10.0
	if _, err := repo.UpdateState(ctx, "dev-1", StateUpdate{
		Value: &v1, Raw: "10", Unit: "kW", UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// A later reading with a different unit must not overwrite it.
	v2 := 12.0
	d, err := repo.UpdateState(ctx, "dev-1", StateUpdate{
		Value: &v2, Raw: "12", Unit: "W", UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if d.Unit != "kW" {
		t.Errorf("unit = %q, want pinned kW", d.Unit)
	}
	if d.Value == nil || *d.Value != 12.0 {
		t.Errorf("value = %v, want 12", d.Value)
	}
}

func TestUpdateStateNilFieldsLeaveStateUntouched(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	createTestDevice(t, repo, "dev-1", SignalDigitalOutput)

	on := true
	v := 75.0
	if _, err := repo.UpdateState(ctx, "dev-1", StateUpdate{
		Value: &v, Raw: "75", IsOn: &on, UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Digital-only reading: nil Value keeps the stored level.
	off := false
	d, err := repo.UpdateState(ctx, "dev-1", StateUpdate{
		Raw: "0", IsOn: &off, UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if d.IsOn {
		t.Error("is_on = true, want false")
	}
	if d.Value == nil || *d.Value != 75.0 {
		t.Errorf("value = %v, want preserved 75", d.Value)
	}
}

func TestUpdateStateConcurrentWritersNeverMixReadings(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	createTestDevice(t, repo, "dev-1", SignalAnalogInput)

	// Two producers race readings whose value and raw text are
	// correlated. Whichever wins, the stored row must hold exactly one
	// writer's whole reading, never value from one and raw from the
	// other.
	var wg sync.WaitGroup
	writer := func(value float64, raw string) {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			v := value
			if _, err := repo.UpdateState(ctx, "dev-1", StateUpdate{
				Value: &v, Raw: raw, UpdatedAt: time.Now().UTC(),
			}); err != nil {
				t.Errorf("update state: %v", err)
				return
			}
		}
	}
	wg.Add(2)
	go writer(1.0, "reading-a")
	go writer(2.0, "reading-b")
	wg.Wait()

	d, err := repo.GetByID(ctx, "dev-1")
	if err != nil {
		t.Fatalf("reload device: %v", err)
	}
	if d.Value == nil {
		t.Fatal("value is nil after 100 readings")
	}
	whole := (*d.Value == 1.0 && d.RawValue == "reading-a") ||
		(*d.Value == 2.0 && d.RawValue == "reading-b")
	if !whole {
		t.Errorf("stored state mixes readings: value = %v, raw = %q", *d.Value, d.RawValue)
	}
}

func TestUpdateStateReplayIsIdempotent(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	createTestDevice(t, repo, "dev-1", SignalAnalogInput)

	v := 21.5
	reading := StateUpdate{
		Value: &v, Raw: "215", Unit: "degC", UpdatedAt: time.Now().UTC(),
	}

	first, err := repo.UpdateState(ctx, "dev-1", reading)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	second, err := repo.UpdateState(ctx, "dev-1", reading)
	if err != nil {
		t.Fatalf("replayed apply: %v", err)
	}

	if *first.Value != *second.Value || first.RawValue != second.RawValue ||
		first.Unit != second.Unit || first.IsOn != second.IsOn {
		t.Errorf("replay changed state: first = %+v, second = %+v", first, second)
	}
}

func TestUpdateStateUnknownDevice(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	_, err := repo.UpdateState(context.Background(), "missing", StateUpdate{
		Raw: "1", UpdatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("error = %v, want ErrDeviceNotFound", err)
	}
}

func TestListInputEndpointsJoinsDevice(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	createTestDevice(t, repo, "dev-1", SignalAnalogInput)
	createTestDevice(t, repo, "dev-2", SignalDigitalOutput)

	now := time.Now().UTC()
	endpoints := []Endpoint{
		{ID: "ep-1", DeviceID: "dev-1", ConnectorID: "conn-1", Direction: DirectionInput,
			Address: "plant/temp", Scale: 0.1, CreatedAt: now, UpdatedAt: now},
		{ID: "ep-2", DeviceID: "dev-2", ConnectorID: "conn-1", Direction: DirectionOutput,
			Address: "plant/relay/set", Scale: 1, CreatedAt: now, UpdatedAt: now},
		{ID: "ep-3", DeviceID: "dev-2", ConnectorID: "conn-1", Direction: DirectionInput,
			Address: "plant/relay/state", Scale: 1, CreatedAt: now, UpdatedAt: now},
	}
	for i := range endpoints {
		if err := endpoints[i].Validate(); err != nil {
			t.Fatalf("validate endpoint: %v", err)
		}
		if err := repo.CreateEndpoint(ctx, &endpoints[i]); err != nil {
			t.Fatalf("create endpoint: %v", err)
		}
	}

	resolved, err := repo.ListInputEndpoints(ctx, "conn-1")
	if err != nil {
		t.Fatalf("list input endpoints: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("resolved = %d endpoints, want 2 (outputs excluded)", len(resolved))
	}

	byID := make(map[string]ResolvedEndpoint, len(resolved))
	for _, re := range resolved {
		byID[re.ID] = re
	}
	temp, ok := byID["ep-1"]
	if !ok {
		t.Fatal("missing ep-1")
	}
	if temp.DeviceSignalType != SignalAnalogInput {
		t.Errorf("signal type = %q, want analog_input", temp.DeviceSignalType)
	}
	if temp.RoomID != "room-1" {
		t.Errorf("room = %q, want room-1", temp.RoomID)
	}
	if relay := byID["ep-3"]; relay.DeviceSignalType != SignalDigitalOutput {
		t.Errorf("relay signal type = %q, want digital_output", relay.DeviceSignalType)
	}
}
