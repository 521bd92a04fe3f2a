package url

import (
	"fmt"

	"go-fleet/internal/model"
)

func StartJob(base string) string {
	return fmt.Sprintf("%s/api/v1/job/", base)
}

func ListJobs(base string) string {
	return fmt.Sprintf("%s/api/v1/job/", base)
}

func GetJob(base string, id model.JobId) string {
	return fmt.Sprintf("%s/api/v1/job/%s/", base, id)
}

func StopJob(base string, id model.JobId) string {
	return fmt.Sprintf("%s/api/v1/job/%s/", base, id)
}

func StopAll(base string) string {
	return fmt.Sprintf("%s/api/v1/stop_all/", base)
}

func Status(base string) string {
	return fmt.Sprintf("%s/api/v1/status/", base)
}
