package asyncrt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_SingleTaskSendRecv(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(1))

	task := NewTask(func(tc *TaskContext) (int, error) {
		ch := NewChannel[int]()
		ch.Send(1)
		ch.Send(2)
		ch.Send(3)
		sum := 0
		for i := 0; i < 3; i++ {
			v, err := ch.Recv(tc)
			if err != nil {
				return 0, err
			}
			sum += v
		}
		return sum, nil
	})
	require.NoError(t, rt.Schedule(task))
	waitDone(t, task.Done(), 5*time.Second)

	v, ok := task.Result()
	require.True(t, ok)
	assert.Equal(t, 6, v)
}

func TestMpscChannel_ProducerWakesParkedConsumer(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(2))

	ch := NewMpscChannel[string]()
	consumer := NewTask(func(tc *TaskContext) (string, error) {
		return ch.Recv(tc)
	})
	require.NoError(t, rt.Schedule(consumer))

	time.Sleep(20 * time.Millisecond)
	ch.Send("hello")

	waitDone(t, consumer.Done(), 5*time.Second)
	v, ok := consumer.Result()
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestMpscChannel_FourProducersOneConsumer(t *testing.T) {
	const producers = 4
	const perProducer = 25000
	const total = producers * perProducer

	rt := newTestRuntime(t, WithSchedulers(4))
	ch := NewMpscChannel[int]()

	consumer := NewTask(func(tc *TaskContext) (int, error) {
		seen := make(map[int]struct{}, total)
		for i := 0; i < total; i++ {
			v, err := ch.Recv(tc)
			if err != nil {
				return 0, err
			}
			if _, dup := seen[v]; dup {
				return 0, opError(ConcurrentError, 0)
			}
			seen[v] = struct{}{}
		}
		return len(seen), nil
	})
	require.NoError(t, rt.Schedule(consumer))

	prods := make([]*Task[None], 0, producers)
	for p := 0; p < producers; p++ {
		p := p
		task := NewTask(func(tc *TaskContext) (None, error) {
			for i := 0; i < perProducer; i++ {
				ch.Send(p<<20 | i)
				if i%4096 == 0 {
					Yield(tc)
				}
			}
			return None{}, nil
		})
		prods = append(prods, task)
		require.NoError(t, rt.Schedule(task))
	}

	for _, task := range prods {
		waitDone(t, task.Done(), 30*time.Second)
	}
	waitDone(t, consumer.Done(), 30*time.Second)

	require.NoError(t, consumer.Err())
	n, ok := consumer.Result()
	require.True(t, ok)
	assert.Equal(t, total, n, "every produced value received exactly once")
}

func TestMpscChannel_SendFromPlainGoroutines(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(2))
	ch := NewMpscChannel[int]()

	consumer := NewTask(func(tc *TaskContext) (int, error) {
		sum := 0
		for i := 0; i < 100; i++ {
			v, err := ch.Recv(tc)
			if err != nil {
				return 0, err
			}
			sum += v
		}
		return sum, nil
	})
	require.NoError(t, rt.Schedule(consumer))

	for g := 0; g < 4; g++ {
		go func() {
			for i := 0; i < 25; i++ {
				ch.Send(1)
			}
		}()
	}

	waitDone(t, consumer.Done(), 10*time.Second)
	v, ok := consumer.Result()
	require.True(t, ok)
	assert.Equal(t, 100, v)
}

func TestAsyncQueue_SpinThenPark(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(2))
	q := NewAsyncQueue[int](128)

	consumer := NewTask(func(tc *TaskContext) (int, error) {
		sum := 0
		for i := 0; i < 10; i++ {
			v, err := q.Recv(tc)
			if err != nil {
				return 0, err
			}
			sum += v
		}
		return sum, nil
	})
	require.NoError(t, rt.Schedule(consumer))

	for i := 1; i <= 10; i++ {
		q.Send(i)
		time.Sleep(time.Millisecond)
	}

	waitDone(t, consumer.Done(), 10*time.Second)
	v, ok := consumer.Result()
	require.True(t, ok)
	assert.Equal(t, 55, v)
}
