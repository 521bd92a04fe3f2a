package fleet

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
)

var ErrorUnknownWorker = errors.New("unknown worker")

type WorkerId string

type Worker struct {
	Id       WorkerId
	Address  string
	Port     uint16
	Capacity int
}

func (w Worker) HostPort() string {
	return net.JoinHostPort(w.Address, strconv.Itoa(int(w.Port)))
}

// Registry is built once at start up and only read afterwards.
type Registry struct {
	workers map[WorkerId]Worker
}

func NewRegistry(workers ...Worker) (*Registry, error) {
	registry := Registry{make(map[WorkerId]Worker, len(workers))}
	for _, worker := range workers {
		if worker.Id == "" {
			return nil, errors.New("worker without id")
		}
		if worker.Capacity <= 0 {
			return nil, fmt.Errorf("worker %s has non-positive capacity %d", worker.Id, worker.Capacity)
		}
		if _, exists := registry.workers[worker.Id]; exists {
			return nil, fmt.Errorf("duplicate worker %s", worker.Id)
		}
		registry.workers[worker.Id] = worker
	}
	return &registry, nil
}

func (r *Registry) Lookup(id WorkerId) (Worker, error) {
	worker, ok := r.workers[id]
	if !ok {
		return Worker{}, fmt.Errorf("%w: %s", ErrorUnknownWorker, id)
	}
	return worker, nil
}

func (r *Registry) Has(id WorkerId) bool {
	_, ok := r.workers[id]
	return ok
}

// Ids returns worker ids in lexical order.
func (r *Registry) Ids() []WorkerId {
	ids := make([]WorkerId, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
