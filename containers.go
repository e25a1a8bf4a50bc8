package blobvault

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/alexjoedt/blobvault/objectid"
)

// Containers returns the names of all containers that hold files.
func (s *Service) Containers(ctx context.Context) ([]string, error) {
	names, err := s.store.Containers(ctx)
	return names, s.metrics.fail("containers", err)
}

// RenameContainer moves every file of container to newName and returns the
// number of files moved.
func (s *Service) RenameContainer(ctx context.Context, container, newName string) (int64, error) {
	if err := validateName("container", container); err != nil {
		return 0, err
	}
	if err := validateName("new container name", newName); err != nil {
		return 0, err
	}

	n, err := s.store.RenameContainer(ctx, container, newName)
	return n, s.metrics.fail("rename_container", err)
}

// DeleteContainer removes every version of every file in container.
func (s *Service) DeleteContainer(ctx context.Context, container string) (DeleteResult, error) {
	res, err := s.Delete(ctx, Where{"metadata.container": container}, true)
	if err == nil {
		s.logger.Info("container deleted",
			zap.String("container", container),
			zap.Int64("versions", res.VersionsDeleted),
		)
	}
	return res, err
}

// ContainerFiles returns the current version of every file in container
// whose versions match where.
func (s *Service) ContainerFiles(ctx context.Context, container string, where any) ([]FileVersion, error) {
	files, err := s.store.FindCurrent(ctx, inContainer(container, "", where))
	return files, s.metrics.fail("container_files", err)
}

// CountContainerFiles returns the number of distinct filenames in container
// among the versions matching where.
func (s *Service) CountContainerFiles(ctx context.Context, container string, where any) (int64, error) {
	return s.Count(ctx, inContainer(container, "", where))
}

// DownloadContainerFiles streams the current versions of the matching files
// as <container>.zip. It fails with ErrNoFiles when nothing matches.
func (s *Service) DownloadContainerFiles(ctx context.Context, container string, where any, sink Sink) error {
	files, err := s.ContainerFiles(ctx, container, where)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("container %q: %w", container, ErrNoFiles)
	}
	return s.sendArchive(ctx, files, container, filenamePattern, sink)
}

// DownloadContainerFileWhere streams the first current version matching
// where. The download is named by alias, a name pattern, or the filename.
func (s *Service) DownloadContainerFileWhere(ctx context.Context, container string, where any, alias string, inline bool, sink Sink) error {
	files, err := s.ContainerFiles(ctx, container, where)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("container %q: %w", container, ErrNoFiles)
	}
	return s.sendFile(ctx, files[0], orDefault(alias, filenamePattern), inline, sink)
}

// ContainerFile returns the current version of file.
func (s *Service) ContainerFile(ctx context.Context, container, file string) (FileVersion, error) {
	if err := validateName("filename", file); err != nil {
		return FileVersion{}, err
	}
	f, err := s.store.GetCurrent(ctx, container, file)
	return f, s.metrics.fail("container_file", err)
}

// DownloadContainerFile streams the current version of file.
func (s *Service) DownloadContainerFile(ctx context.Context, container, file, alias string, inline bool, sink Sink) error {
	f, err := s.ContainerFile(ctx, container, file)
	if err != nil {
		return err
	}
	return s.sendFile(ctx, f, orDefault(alias, filenamePattern), inline, sink)
}

// DeleteContainerFile removes every version of file.
func (s *Service) DeleteContainerFile(ctx context.Context, container, file string) (DeleteResult, error) {
	if err := validateName("filename", file); err != nil {
		return DeleteResult{}, err
	}
	return s.Delete(ctx, Where{"metadata.container": container, "filename": file}, true)
}

// FileVersions returns the versions of file matching where, newest first.
func (s *Service) FileVersions(ctx context.Context, container, file string, where any) ([]FileVersion, error) {
	if err := validateName("filename", file); err != nil {
		return nil, err
	}
	return s.Find(ctx, inContainer(container, file, where))
}

func (s *Service) CountFileVersions(ctx context.Context, container, file string, where any) (int64, error) {
	if err := validateName("filename", file); err != nil {
		return 0, err
	}
	return s.CountVersions(ctx, inContainer(container, file, where))
}

// DownloadFileVersions streams the matching versions of file as a zip
// archive named after alias or the file. Entries are prefixed with their
// version id.
func (s *Service) DownloadFileVersions(ctx context.Context, container, file, alias string, where any, sink Sink) error {
	files, err := s.FileVersions(ctx, container, file, where)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("file %q in container %q: %w", file, container, ErrNoFiles)
	}

	pattern := versionIDPrefix + orDefault(alias, filenamePattern)
	return s.sendArchive(ctx, files, orDefault(alias, file), pattern, sink)
}

func parseVersion(version string) (objectid.ID, error) {
	id, err := objectid.Parse(version)
	if err != nil {
		return objectid.Nil, fmt.Errorf("%q: %w", version, ErrInvalidID)
	}
	return id, nil
}

// FileVersion returns one version of file.
func (s *Service) FileVersion(ctx context.Context, container, file, version string) (FileVersion, error) {
	id, err := parseVersion(version)
	if err != nil {
		return FileVersion{}, err
	}
	return s.FindOne(ctx, Where{
		"_id":                id,
		"metadata.container": container,
		"filename":           file,
	})
}

// DownloadFileVersion streams one version of file. Without alias it is
// named <id>_<filename>.
func (s *Service) DownloadFileVersion(ctx context.Context, container, file, version, alias string, inline bool, sink Sink) error {
	f, err := s.FileVersion(ctx, container, file, version)
	if err != nil {
		return err
	}
	return s.sendFile(ctx, f, orDefault(alias, versionedPattern), inline, sink)
}

// DeleteFileVersion removes one version of file. Only VersionsDeleted is
// reported.
func (s *Service) DeleteFileVersion(ctx context.Context, container, file, version string) (DeleteResult, error) {
	id, err := parseVersion(version)
	if err != nil {
		return DeleteResult{}, err
	}
	return s.Delete(ctx, Where{
		"_id":                id,
		"metadata.container": container,
		"filename":           file,
	}, false)
}
