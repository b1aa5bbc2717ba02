// internal/broker/queue.go
package broker

// offsetQueue — очередь offset'ов топика, ещё не подтверждённых самой
// медленной группой. Offset'ы топика непрерывны, поэтому очередь хранится
// как окно (floor, head]: floor — минимальный закоммиченный offset среди
// известных групп, head — последний опубликованный.
type offsetQueue struct {
	floor uint64
	head  uint64
}

// enqueue добавляет следующий опубликованный offset.
func (q *offsetQueue) enqueue(off uint64) {
	if off > q.head {
		q.head = off
	}
}

// next возвращает offset, следующий за after, если он уже опубликован.
func (q *offsetQueue) next(after uint64) (uint64, bool) {
	n := after + 1
	if n > q.head {
		return 0, false
	}
	return n, true
}

// trim сдвигает floor: offset'ы ≤ upTo больше не занимают ёмкость.
// Новая группа с committed ниже floor опускает его обратно.
func (q *offsetQueue) trim(upTo uint64) {
	if upTo > q.head {
		upTo = q.head
	}
	q.floor = upTo
}

// len — текущий backlog.
func (q *offsetQueue) len() int {
	return int(q.head - q.floor)
}
