package config

type WorkerKeyStruct struct {
	SessionCompletedQueue string
}

var WorkerKey = &WorkerKeyStruct{
	SessionCompletedQueue: "session_completed_queue",
}
