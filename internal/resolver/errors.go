package resolver

// UnresolvedDependencyError records a soname that matched no file in the
// SDK or the system library directories. It is collected as a warning;
// the run continues and deploys what was found.
type UnresolvedDependencyError struct {
	Soname     string
	RequiredBy string
}

func (e *UnresolvedDependencyError) Error() string {
	return "unresolved dependency " + e.Soname + " required by " + e.RequiredBy
}

// MissingArtifactError is returned when an explicitly requested plugin
// group or module does not exist in the SDK. It aborts the run before
// any file is touched.
type MissingArtifactError struct {
	Kind string
	Name string
}

func (e *MissingArtifactError) Error() string {
	return "required " + e.Kind + " " + e.Name + " not found in the SDK"
}
