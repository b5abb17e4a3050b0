package main

import "sync"

// Dispatcher delivers functions to the single-threaded main context.
type Dispatcher interface {
	Post(fn func()) bool
}

// MainLoop runs posted functions one at a time on a single goroutine.
// Result sinks run here, so whatever they mutate needs no further locking
// as long as it is only touched from the loop.
type MainLoop struct {
	tasks chan func()
	done  chan struct{}
	quit  chan struct{}
	once  sync.Once
}

func NewMainLoop() *MainLoop {
	l := &MainLoop{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
		quit:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *MainLoop) run() {
	defer close(l.done)
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.quit:
			return
		}
	}
}

// Post queues fn and reports whether it was accepted; after Close nothing is.
func (l *MainLoop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Close stops the loop once the function currently running returns. Queued
// functions that have not started are dropped.
func (l *MainLoop) Close() {
	l.once.Do(func() { close(l.quit) })
	<-l.done
}
