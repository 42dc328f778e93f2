package asyncrt_test

import (
	"fmt"
	"time"

	asyncrt "github.com/joeycumines/go-asyncrt"
)

// Example demonstrates the basic task lifecycle: create a runtime, submit a
// task that sleeps and produces a value, and read its result.
func Example() {
	rt, err := asyncrt.New(asyncrt.WithSchedulers(2))
	if err != nil {
		panic(err)
	}
	if err := rt.Start(); err != nil {
		panic(err)
	}
	defer rt.Stop()

	task := asyncrt.NewTask(func(tc *asyncrt.TaskContext) (string, error) {
		if err := asyncrt.Sleep(tc, 10*time.Millisecond); err != nil {
			return "", err
		}
		return "done", nil
	})
	if err := rt.Schedule(task); err != nil {
		panic(err)
	}

	<-task.Done()
	v, _ := task.Result()
	fmt.Println(v)
	// Output: done
}

// ExampleTimeout races an inner operation against a deadline.
func ExampleTimeout() {
	rt, err := asyncrt.New(asyncrt.WithSchedulers(2))
	if err != nil {
		panic(err)
	}
	if err := rt.Start(); err != nil {
		panic(err)
	}
	defer rt.Stop()

	task := asyncrt.NewTask(func(tc *asyncrt.TaskContext) (string, error) {
		return asyncrt.Timeout(tc, 10*time.Millisecond, func(ctc *asyncrt.TaskContext) (string, error) {
			if err := asyncrt.Sleep(ctc, time.Second); err != nil {
				return "", err
			}
			return "inner", nil
		})
	})
	if err := rt.Schedule(task); err != nil {
		panic(err)
	}

	<-task.Done()
	fmt.Println(asyncrt.IsTimeout(task.Err()))
	// Output: true
}
