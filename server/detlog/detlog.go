// Package detlog is the detection log sink.
// Sessions add a record for every frame that had something to show, and the
// records are written to the database on a background thread, so that a
// session never waits on the database.
package detlog

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/livetrack/pkg/dbh"
	"github.com/cyclopcam/livetrack/pkg/gen"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// Number of records that can be queued before Add starts dropping them
const QueueSize = 1000

// SYNC-WATCHER-CHANNEL-SIZE
const WatcherChannelSize = 100

// Record is one line of the detection log
type Record struct {
	ID             int64       `gorm:"primaryKey" json:"id"`
	Timestamp      dbh.IntTime `json:"timestamp"`
	SessionID      string      `json:"sessionID"`
	FrameIndex     int64       `json:"frameIndex"`
	DetectionCount int         `json:"detectionCount"`
	TrackCount     int         `json:"trackCount"`
}

func (Record) TableName() string {
	return "detection_record"
}

type DetectionLog struct {
	log               logs.Log
	db                *gorm.DB
	queue             chan *Record
	shutdown          chan bool // This channel is closed when its time to shutdown
	writeThreadClosed chan bool // The write thread closes this channel when it exits
	closed            atomic.Bool
	nDropped          atomic.Int64
	lastDropMsg       atomic.Int64 // unix nanoseconds

	watchersLock sync.RWMutex
	watchers     []chan *Record
}

// Open or create the detection log database
func Open(log logs.Log, dbc dbh.DBConfig, flags dbh.DBConnectFlags) (*DetectionLog, error) {
	log = logs.NewPrefixLogger(log, "DetLog")
	log.Infof("Opening detection log (%v)", dbc.LogSafeDescription())
	db, err := dbh.OpenDB(log, dbc, Migrations(log, dbc.Driver), flags)
	if err != nil {
		return nil, fmt.Errorf("Failed to open detection log database: %w", err)
	}
	d := &DetectionLog{
		log:               log,
		db:                db,
		queue:             make(chan *Record, QueueSize),
		shutdown:          make(chan bool),
		writeThreadClosed: make(chan bool),
	}
	go d.writeThread()
	return d, nil
}

// Add queues a record for writing. Add never blocks. If the queue is full, the record is dropped.
func (d *DetectionLog) Add(r *Record) {
	if d.closed.Load() {
		return
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = dbh.MakeIntTime(time.Now())
	}
	select {
	case d.queue <- r:
	default:
		n := d.nDropped.Add(1)
		now := time.Now().UnixNano()
		last := d.lastDropMsg.Load()
		if now-last > int64(5*time.Second) && d.lastDropMsg.CompareAndSwap(last, now) {
			d.log.Warnf("Detection log queue is full. %v records dropped so far", n)
		}
	}
}

// Dropped returns the number of records that Add has had to drop
func (d *DetectionLog) Dropped() int64 {
	return d.nDropped.Load()
}

// Recent returns up to n of the most recently stored records, oldest first
func (d *DetectionLog) Recent(n int) ([]Record, error) {
	records := []Record{}
	if n <= 0 {
		return records, nil
	}
	if err := d.db.Order("id DESC").Limit(n).Find(&records).Error; err != nil {
		return nil, err
	}
	slices.Reverse(records)
	return records, nil
}

// Register to receive every record after it has been stored
func (d *DetectionLog) AddWatcher() chan *Record {
	d.watchersLock.Lock()
	defer d.watchersLock.Unlock()
	ch := make(chan *Record, WatcherChannelSize)
	d.watchers = append(d.watchers, ch)
	return ch
}

func (d *DetectionLog) RemoveWatcher(ch chan *Record) {
	d.watchersLock.Lock()
	defer d.watchersLock.Unlock()
	n := len(d.watchers)
	d.watchers = gen.DeleteFirst(d.watchers, ch)
	if len(d.watchers) == n {
		d.log.Warnf("RemoveWatcher failed to find channel")
	}
}

// Close flushes queued records, and closes the database
func (d *DetectionLog) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	close(d.shutdown)
	<-d.writeThreadClosed
	if sqlDB, err := d.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (d *DetectionLog) writeThread() {
	keepRunning := true
	for keepRunning {
		select {
		case <-d.shutdown:
			keepRunning = false
		case r := <-d.queue:
			batch := append([]*Record{r}, gen.DrainChannelIntoSlice(d.queue)...)
			d.write(batch)
		}
	}
	if remaining := gen.DrainChannelIntoSlice(d.queue); len(remaining) != 0 {
		d.log.Infof("Flushing %v records", len(remaining))
		d.write(remaining)
	}
	close(d.writeThreadClosed)
}

func (d *DetectionLog) write(batch []*Record) {
	if err := d.db.Create(batch).Error; err != nil {
		d.log.Errorf("Failed to write %v records: %v", len(batch), err)
		return
	}
	for _, r := range batch {
		d.sendToWatchers(r)
	}
}

func (d *DetectionLog) sendToWatchers(r *Record) {
	d.watchersLock.RLock()
	defer d.watchersLock.RUnlock()
	for _, ch := range d.watchers {
		// SYNC-WATCHER-CHANNEL-SIZE
		if len(ch) >= cap(ch)*9/10 {
			// Drop rather than stall the write thread on a slow watcher
			d.log.Warnf("Detection log watcher is falling behind. Dropping records.")
		} else {
			ch <- r
		}
	}
}
