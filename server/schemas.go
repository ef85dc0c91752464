package server

type EnqueueInput struct {
	Name string `path:"name" maxLength:"255" example:"emails" doc:"Name of the queue"`
	Body struct {
		Data map[string]string `json:"data" doc:"Task record: a flat mapping of field names to values"`
	}
}

type EnqueueOutput struct {
	Status int
	Body   struct {
		ID    int64  `json:"id" example:"1" doc:"Id assigned to the task"`
		Queue string `json:"queue" example:"emails" doc:"Name of the queue"`
	}
}

type GetTaskInput struct {
	Name string `path:"name" maxLength:"255" example:"emails" doc:"Name of the queue"`
	ID   int64  `path:"id" example:"1" doc:"Id of the task"`
}

type GetTaskOutput struct {
	Body struct {
		ID    int64             `json:"id" example:"1" doc:"Id of the task"`
		Queue string            `json:"queue" example:"emails" doc:"Name of the queue"`
		Data  map[string]string `json:"data" doc:"Task record: a flat mapping of field names to values"`
	}
}

type StatsInput struct {
	Name string `path:"name" maxLength:"255" example:"emails" doc:"Name of the queue"`
}

type StatsOutput struct {
	Body struct {
		Queue   string `json:"queue" example:"emails" doc:"Name of the queue"`
		Waiting int64  `json:"waiting" example:"3" doc:"Number of tasks awaiting claim"`
		Working int64  `json:"working" example:"1" doc:"Number of tasks claimed by consumers"`
	}
}
