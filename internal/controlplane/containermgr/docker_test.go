package containermgr

import "testing"

func TestDockerManager_ContainerName(t *testing.T) {
	d := NewDockerManager("nexus/sandbox:latest")
	got := d.containerName("sb-1")
	want := "nexus-sandbox-sb-1"
	if got != want {
		t.Errorf("containerName = %q, want %q", got, want)
	}
}

func TestDockerManager_VolumeName(t *testing.T) {
	d := NewDockerManager("nexus/sandbox:latest")
	got := d.volumeName("sb-1", VolumeCode)
	want := "nexus-sandbox-sb-1-code"
	if got != want {
		t.Errorf("volumeName = %q, want %q", got, want)
	}
}

func TestDockerManager_ImplementsManager(t *testing.T) {
	var _ Manager = (*DockerManager)(nil)
}
