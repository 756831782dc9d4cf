package redis

// Key layout:
//
//	attempt:{id}:meta       hash   exam_id, participant_id, mode, status, reason, verified, started_at, ended_at
//	attempt:{id}:answers    hash   question id -> JSON answer
//	attempt:{id}:order      list   question ids in first-answered order
//	attempt:{id}:anomalies  list   JSON anomalies
//	attempt:{id}:otp        string one-time identity code, expires
//	exam:{id}:payload       string JSON exam payload, expires

func metaKey(attemptID string) string {
	return "attempt:" + attemptID + ":meta"
}

func answersKey(attemptID string) string {
	return "attempt:" + attemptID + ":answers"
}

func orderKey(attemptID string) string {
	return "attempt:" + attemptID + ":order"
}

func anomaliesKey(attemptID string) string {
	return "attempt:" + attemptID + ":anomalies"
}

func otpKey(attemptID string) string {
	return "attempt:" + attemptID + ":otp"
}

func examKey(examID string) string {
	return "exam:" + examID + ":payload"
}
