package queue

import "fmt"

// Key layout for a queue named Q and a task id T:
//
//	rq:Q:id         counter used for id allocation
//	rq:Q:waiting    list of ids awaiting claim
//	rq:Q:working    list of ids claimed by consumers
//	rq:Q:completed  list, reserved
//	rq:Q:T          hash holding the task record
//	rq:Q:T:lock     lock cell, value is the holder's token
const keyPrefix = "rq"

// idKey returns the id allocation counter key.
// Format: rq:{queue}:id
func idKey(queue string) string {
	return fmt.Sprintf("%s:%s:id", keyPrefix, queue)
}

// waitingKey returns the key of the list of ids awaiting claim.
// Format: rq:{queue}:waiting
func waitingKey(queue string) string {
	return fmt.Sprintf("%s:%s:waiting", keyPrefix, queue)
}

// workingKey returns the key of the list of ids claimed by consumers.
// Format: rq:{queue}:working
func workingKey(queue string) string {
	return fmt.Sprintf("%s:%s:working", keyPrefix, queue)
}

// completedKey returns the key of the completed list. The list is reserved
// and not populated by the engine.
// Format: rq:{queue}:completed
func completedKey(queue string) string {
	return fmt.Sprintf("%s:%s:completed", keyPrefix, queue)
}

// recordKey returns the key of the hash holding a task record.
// Format: rq:{queue}:{id}
func recordKey(queue string, id int64) string {
	return fmt.Sprintf("%s:%s:%d", keyPrefix, queue, id)
}

// lockKey returns the key of a task's lock cell.
// Format: rq:{queue}:{id}:lock
func lockKey(queue string, id int64) string {
	return fmt.Sprintf("%s:%s:%d:lock", keyPrefix, queue, id)
}
