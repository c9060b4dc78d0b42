// Copyright 2024-2025 The pulseboard Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalTimerOneShot(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetIntervalTimerInstance("testing", ctxt, &wg)
	assert.Nil(err)

	var value int32
	callback := func() error {
		atomic.AddInt32(&value, 1)
		return nil
	}

	assert.Nil(uut.Start(time.Millisecond*100, callback, true))
	time.Sleep(time.Millisecond * 150)
	assert.Equal(int32(1), atomic.LoadInt32(&value))

	time.Sleep(time.Millisecond * 100)
	assert.Equal(int32(1), atomic.LoadInt32(&value))

	assert.Nil(uut.Start(time.Millisecond*50, callback, true))
	time.Sleep(time.Millisecond * 70)
	assert.Equal(int32(2), atomic.LoadInt32(&value))
}

func TestIntervalTimerRepeating(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetIntervalTimerInstance("testing", ctxt, &wg)
	assert.Nil(err)

	var value int32
	callback := func() error {
		atomic.AddInt32(&value, 1)
		return nil
	}

	assert.Nil(uut.Start(time.Millisecond*100, callback, false))
	time.Sleep(time.Millisecond * 310)
	assert.Nil(uut.Stop())
	ticks := atomic.LoadInt32(&value)
	assert.Equal(int32(3), ticks)

	// No further ticks after stop
	time.Sleep(time.Millisecond * 200)
	assert.Equal(ticks, atomic.LoadInt32(&value))

	// Stop is safe to repeat
	assert.Nil(uut.Stop())
}

func TestIntervalTimerRestart(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetIntervalTimerInstance("testing", ctxt, &wg)
	assert.Nil(err)

	var first int32
	var second int32

	assert.Nil(uut.Start(time.Millisecond*50, func() error {
		atomic.AddInt32(&first, 1)
		return nil
	}, false))
	time.Sleep(time.Millisecond * 120)

	// Restarting takes over the timer. The old loop must not tick again.
	assert.Nil(uut.Start(time.Millisecond*50, func() error {
		atomic.AddInt32(&second, 1)
		return nil
	}, false))
	time.Sleep(time.Millisecond * 10)
	firstTicks := atomic.LoadInt32(&first)
	time.Sleep(time.Millisecond * 120)
	assert.Nil(uut.Stop())
	assert.Equal(firstTicks, atomic.LoadInt32(&first))
	assert.GreaterOrEqual(atomic.LoadInt32(&second), int32(2))
}
